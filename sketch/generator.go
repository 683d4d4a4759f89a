// Package sketch drives a pretrained image-to-sketch network through its
// Python inference script. The network itself is an external checkout; this
// package locates its checkpoints, shells out for inference, and collects
// the generated sketch files.
package sketch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"captionpipe/caption"
)

// ScriptName is the inference entry point inside the network checkout.
const ScriptName = "test.py"

// CheckpointFilename is the generator weight file expected inside each
// model's checkpoint directory.
const CheckpointFilename = "netG_A_latest.pth"

// DefaultModel is the pretrained style used when none is configured.
const DefaultModel = "anime_style"

// batchSuffix is appended to each stem by the inference script.
const batchSuffix = "_out.png"

// singleSuffix is used for sketches produced by GenerateOne.
const singleSuffix = "_sketch.png"

// Generator runs the sketch network for one pretrained style.
type Generator struct {
	model          string
	scriptDir      string
	checkpointsDir string
	pythonBin      string
	logger         zerolog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithPythonBin overrides the Python interpreter used to run the script.
func WithPythonBin(bin string) GeneratorOption {
	return func(g *Generator) {
		if bin != "" {
			g.pythonBin = bin
		}
	}
}

// WithCheckpointsDir overrides the checkpoints directory. The default is
// checkpoints/ inside the script directory.
func WithCheckpointsDir(dir string) GeneratorOption {
	return func(g *Generator) {
		if dir != "" {
			g.checkpointsDir = dir
		}
	}
}

// WithLogger sets the logger for subprocess diagnostics.
func WithLogger(logger zerolog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// NewGenerator creates a generator for the given pretrained model, rooted at
// the network checkout in scriptDir.
func NewGenerator(model, scriptDir string, opts ...GeneratorOption) (*Generator, error) {
	if scriptDir == "" {
		return nil, fmt.Errorf("sketch script directory is required")
	}
	if model == "" {
		model = DefaultModel
	}

	g := &Generator{
		model:          model,
		scriptDir:      scriptDir,
		checkpointsDir: filepath.Join(scriptDir, "checkpoints"),
		pythonBin:      "python3",
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Model returns the configured pretrained style name.
func (g *Generator) Model() string { return g.model }

// Available verifies that the inference script and the model's checkpoint
// are present. It returns nil when the generator is runnable.
func (g *Generator) Available() error {
	script := filepath.Join(g.scriptDir, ScriptName)
	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("sketch script not found at %s: %w", script, err)
	}
	checkpoint := filepath.Join(g.checkpointsDir, g.model, CheckpointFilename)
	if _, err := os.Stat(checkpoint); err != nil {
		if models, merr := g.Models(); merr == nil && len(models) > 0 {
			return fmt.Errorf("checkpoint for model %q not found at %s (available: %s)", g.model, checkpoint, strings.Join(models, ", "))
		}
		return fmt.Errorf("checkpoint for model %q not found at %s: %w", g.model, checkpoint, err)
	}
	return nil
}

// Models lists the pretrained styles that have a usable checkpoint.
func (g *Generator) Models() ([]string, error) {
	entries, err := os.ReadDir(g.checkpointsDir)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoints directory: %w", err)
	}

	var models []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(g.checkpointsDir, entry.Name(), CheckpointFilename)); err == nil {
			models = append(models, entry.Name())
		}
	}
	sort.Strings(models)
	return models, nil
}

// GenerateBatch runs inference over every image in inputDir. Sketches are
// written by the script to outputDir/<model>/<stem>_out.png; the returned
// paths are the sketches that were actually produced, sorted by name.
func (g *Generator) GenerateBatch(ctx context.Context, inputDir, outputDir string) ([]string, error) {
	if err := g.Available(); err != nil {
		return nil, err
	}

	images, err := caption.DiscoverImages(inputDir)
	if err != nil {
		return nil, err
	}

	absInput, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, fmt.Errorf("resolving input dir: %w", err)
	}
	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolving output dir: %w", err)
	}
	absCheckpoints, err := filepath.Abs(g.checkpointsDir)
	if err != nil {
		return nil, fmt.Errorf("resolving checkpoints dir: %w", err)
	}
	if err := os.MkdirAll(absOutput, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.pythonBin, ScriptName,
		"--name", g.model,
		"--dataroot", absInput,
		"--results_dir", absOutput,
		"--checkpoints_dir", absCheckpoints,
		"--how_many", "99999",
		"--no_flip",
	)
	cmd.Dir = g.scriptDir

	g.logger.Debug().
		Str("model", g.model).
		Str("input", absInput).
		Str("output", absOutput).
		Msg("running sketch inference")

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sketch inference failed: %w: %s", err, tail(out, 2048))
	}

	modelDir := filepath.Join(absOutput, g.model)
	var sketches []string
	for _, img := range images {
		sketch := filepath.Join(modelDir, caption.ImageStem(img)+batchSuffix)
		if _, err := os.Stat(sketch); err == nil {
			sketches = append(sketches, sketch)
		} else {
			g.logger.Warn().Str("image", filepath.Base(img)).Msg("no sketch produced")
		}
	}
	if len(sketches) == 0 {
		return nil, fmt.Errorf("inference produced no sketches in %s: %s", modelDir, tail(out, 2048))
	}

	sort.Strings(sketches)
	return sketches, nil
}

// GenerateOne sketches a single image. The image is staged into a temporary
// folder for the batch script, and the result is moved to
// outputDir/<stem>_sketch.png.
func (g *Generator) GenerateOne(ctx context.Context, imagePath, outputDir string) (string, error) {
	if !caption.IsImageFile(imagePath) {
		return "", fmt.Errorf("not an image file: %s", imagePath)
	}

	staging, err := os.MkdirTemp("", "sketch-input-")
	if err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	stagingOut, err := os.MkdirTemp("", "sketch-output-")
	if err != nil {
		return "", fmt.Errorf("creating staging output dir: %w", err)
	}
	defer os.RemoveAll(stagingOut)

	if err := copyFile(imagePath, filepath.Join(staging, filepath.Base(imagePath))); err != nil {
		return "", fmt.Errorf("staging image: %w", err)
	}

	sketches, err := g.GenerateBatch(ctx, staging, stagingOut)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	dest := filepath.Join(outputDir, caption.ImageStem(imagePath)+singleSuffix)
	if err := moveFile(sketches[0], dest); err != nil {
		return "", fmt.Errorf("moving sketch: %w", err)
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// moveFile renames when possible and falls back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

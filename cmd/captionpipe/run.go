package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"captionpipe/caption"
	"captionpipe/sketch"
	"captionpipe/visionllm"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Caption an image or a folder of images",
	Long: "Caption an image file or every image in a folder with the configured vision\n" +
		"models, merge the per-model captions, and write captions/ plus\n" +
		"captioning_summary.json to the output folder. With --sketches, also render a\n" +
		"sketch per image.",
	RunE: runCaptioning,
}

func init() {
	runCmd.Flags().StringP("input", "i", "", "Image file or folder of images (required)")
	runCmd.Flags().StringP("output", "o", "", "Output folder (default: input folder)")
	runCmd.Flags().StringP("user-context", "c", "", "Extra context passed to the models (with --context-source manual)")
	runCmd.Flags().String("context-source", "folder", "Per-image context source: folder, filename, or manual")
	runCmd.Flags().BoolP("sketches", "s", false, "Also generate sketches for the input images")
	runCmd.Flags().Bool("caption-only", false, "Only generate captions, skip sketch generation")
	runCmd.Flags().Bool("sketch-only", false, "Only generate sketches, skip caption generation")
	runCmd.Flags().String("sketch-model", "", "Pretrained sketch style (default from config)")
	runCmd.Flags().String("sketch-dir", "", "Sketch network checkout directory (default from config)")

	_ = runCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(runCmd)
}

func runCaptioning(cmd *cobra.Command, args []string) error {
	input, _ := cmd.Flags().GetString("input")
	outputDir, _ := cmd.Flags().GetString("output")
	manualContext, _ := cmd.Flags().GetString("user-context")
	sourceFlag, _ := cmd.Flags().GetString("context-source")
	withSketches, _ := cmd.Flags().GetBool("sketches")
	captionOnly, _ := cmd.Flags().GetBool("caption-only")
	sketchOnly, _ := cmd.Flags().GetBool("sketch-only")
	verbose := viper.GetBool("verbose")

	if captionOnly && sketchOnly {
		return fmt.Errorf("cannot specify both --caption-only and --sketch-only")
	}
	withCaptions := !sketchOnly
	withSketches = (withSketches || sketchOnly) && !captionOnly

	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("input path does not exist: %w", err)
	}
	singleImage := !info.IsDir()

	if outputDir == "" {
		if singleImage {
			outputDir = filepath.Dir(input)
		} else {
			outputDir = input
		}
	}

	source, err := caption.ParseContextSource(sourceFlag)
	if err != nil {
		return err
	}
	// Manual context only applies to single images; folders fall back to
	// folder naming.
	if !singleImage && source == caption.ContextManual {
		source = caption.ContextFolder
	}

	logger := newLogger()
	emitter := caption.NewEventEmitter()
	emitter.On(terminalEventListener(verbose))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if withCaptions {
		captioners, err := buildCaptioners()
		if err != nil {
			return err
		}
		merger, err := buildMerger()
		if err != nil {
			return err
		}

		pipe, err := caption.NewPipeline(caption.Config{
			Captioners:   captioners,
			Merger:       merger,
			CaptionDelay: viper.GetDuration("delays.caption"),
			ImageDelay:   viper.GetDuration("delays.image"),
			Events:       emitter,
			Logger:       &logger,
		})
		if err != nil {
			return err
		}

		if singleImage {
			result, err := pipe.ProcessFile(ctx, input, outputDir, source, manualContext)
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("captioning failed: %s", result.Error)
			}
			fmt.Fprintf(os.Stderr, "\nMerged caption: %s\n", result.MergedCaption)
		} else {
			summary, err := pipe.ProcessFolder(ctx, input, outputDir, source, manualContext)
			if err != nil {
				return err
			}
			printRunSummary(summary, outputDir)
		}
	}

	if withSketches {
		if err := runSketches(ctx, cmd, input, singleImage, outputDir, logger, emitter); err != nil {
			return err
		}
	}
	return nil
}

// buildCaptioners creates one captioner per provider that has an API key
// configured. At least one is required.
func buildCaptioners() ([]*caption.Captioner, error) {
	var opts []caption.CaptionerOption
	if prompt := viper.GetString("prompt"); prompt != "" {
		opts = append(opts, caption.WithPrompt(prompt))
	}

	var captioners []*caption.Captioner

	if key := viper.GetString("gemini.api_key"); key != "" {
		adapter, err := visionllm.NewGeminiAdapter(key)
		if err != nil {
			return nil, err
		}
		geminiOpts := append([]caption.CaptionerOption{caption.WithProviderOptions(geminiNoThinking())}, opts...)
		c, err := caption.NewCaptioner("gemini", viper.GetString("models.gemini"), adapter, geminiOpts...)
		if err != nil {
			return nil, err
		}
		captioners = append(captioners, c)
	}

	if key := viper.GetString("groq.api_key"); key != "" {
		adapter, err := visionllm.NewGroqAdapter(key)
		if err != nil {
			return nil, err
		}
		c, err := caption.NewCaptioner("groq", viper.GetString("models.groq"), adapter, opts...)
		if err != nil {
			return nil, err
		}
		captioners = append(captioners, c)
	}

	if key := viper.GetString("openai.api_key"); key != "" {
		adapter, err := visionllm.NewOpenAIAdapter(key)
		if err != nil {
			return nil, err
		}
		c, err := caption.NewCaptioner("openai", viper.GetString("models.openai"), adapter, opts...)
		if err != nil {
			return nil, err
		}
		captioners = append(captioners, c)
	}

	if len(captioners) == 0 {
		return nil, fmt.Errorf("no provider API keys configured (set GEMINI_API_KEY, GROQ_API_KEY, or OPENAI_API_KEY)")
	}
	return captioners, nil
}

// buildMerger creates the merge-stage client. Merging always runs on the
// strongest configured model, which requires a Gemini key.
func buildMerger() (*caption.Merger, error) {
	key := viper.GetString("gemini.api_key")
	if key == "" {
		return nil, fmt.Errorf("caption merging requires GEMINI_API_KEY")
	}
	adapter, err := visionllm.NewGeminiAdapter(key)
	if err != nil {
		return nil, err
	}
	return caption.NewMerger(viper.GetString("models.merge"), adapter,
		caption.WithMergerProviderOptions(geminiNoThinking()))
}

// geminiNoThinking sets a zero thinking budget for caption and merge calls.
func geminiNoThinking() map[string]interface{} {
	return map[string]interface{}{
		"gemini": map[string]interface{}{
			"thinking": map[string]interface{}{"thinkingBudget": 0},
		},
	}
}

// runSketches renders sketches for the input images into
// <outputDir>/sketches/<model>/ (a single image goes straight into
// <outputDir>/sketches/).
func runSketches(ctx context.Context, cmd *cobra.Command, input string, singleImage bool, outputDir string, logger zerolog.Logger, emitter *caption.EventEmitter) error {
	model, _ := cmd.Flags().GetString("sketch-model")
	if model == "" {
		model = viper.GetString("sketch.model")
	}
	scriptDir, _ := cmd.Flags().GetString("sketch-dir")
	if scriptDir == "" {
		scriptDir = viper.GetString("sketch.dir")
	}

	opts := []sketch.GeneratorOption{
		sketch.WithPythonBin(viper.GetString("sketch.python")),
		sketch.WithLogger(logger),
	}
	if ckpt := viper.GetString("sketch.checkpoints"); ckpt != "" {
		opts = append(opts, sketch.WithCheckpointsDir(ckpt))
	}

	gen, err := sketch.NewGenerator(model, scriptDir, opts...)
	if err != nil {
		return err
	}
	if err := gen.Available(); err != nil {
		return err
	}

	emitter.Emit(caption.SketchStartedEvent(gen.Model(), input))
	start := time.Now()

	sketchesDir := filepath.Join(outputDir, "sketches")
	count := 0
	if singleImage {
		if _, err := gen.GenerateOne(ctx, input, sketchesDir); err != nil {
			emitter.Emit(caption.SketchFailedEvent(gen.Model(), err.Error()))
			return err
		}
		count = 1
	} else {
		sketches, err := gen.GenerateBatch(ctx, input, sketchesDir)
		if err != nil {
			emitter.Emit(caption.SketchFailedEvent(gen.Model(), err.Error()))
			return err
		}
		count = len(sketches)
	}
	emitter.Emit(caption.SketchCompletedEvent(gen.Model(), count, time.Since(start)))
	return nil
}

// terminalEventListener returns an event listener that prints run progress.
func terminalEventListener(verbose bool) func(caption.Event) {
	imageStarts := make(map[string]time.Time)

	return func(e caption.Event) {
		switch e.Type {
		case caption.EventRunStarted:
			count, _ := e.Data["image_count"].(int)
			fmt.Fprintf(os.Stderr, "[run] Captioning %d image(s)\n", count)

		case caption.EventImageStarted:
			image, _ := e.Data["image"].(string)
			index, _ := e.Data["index"].(int)
			total, _ := e.Data["total"].(int)
			imageStarts[image] = e.Timestamp
			fmt.Fprintf(os.Stderr, "[image %d/%d] %s...", index, total, image)

		case caption.EventImageCompleted:
			image, _ := e.Data["image"].(string)
			success, _ := e.Data["success"].(bool)
			duration := time.Duration(0)
			if start, ok := imageStarts[image]; ok {
				duration = e.Timestamp.Sub(start)
			}
			if success {
				fmt.Fprintf(os.Stderr, " done (%.1fs)\n", duration.Seconds())
			} else {
				fmt.Fprintf(os.Stderr, " failed (%.1fs)\n", duration.Seconds())
			}

		case caption.EventCaptionFailed:
			captioner, _ := e.Data["captioner"].(string)
			errMsg, _ := e.Data["error"].(string)
			fmt.Fprintf(os.Stderr, "\n  [warn] %s: %s", captioner, errMsg)

		case caption.EventCallRetrying:
			if verbose {
				stage, _ := e.Data["stage"].(string)
				attempt, _ := e.Data["attempt"].(int)
				fmt.Fprintf(os.Stderr, "\n  [retry] %s (attempt %d)", stage, attempt)
			}

		case caption.EventMergeFailed:
			errMsg, _ := e.Data["error"].(string)
			fmt.Fprintf(os.Stderr, "\n  [warn] merge: %s", errMsg)

		case caption.EventSummaryWritten:
			path, _ := e.Data["path"].(string)
			fmt.Fprintf(os.Stderr, "[run] Summary written to %s\n", path)

		case caption.EventSketchStarted:
			model, _ := e.Data["model"].(string)
			fmt.Fprintf(os.Stderr, "[sketch] Generating with %s...", model)

		case caption.EventSketchCompleted:
			count, _ := e.Data["sketches"].(int)
			durationMs, _ := e.Data["duration_ms"].(int64)
			fmt.Fprintf(os.Stderr, " done (%d sketch(es), %.1fs)\n", count, float64(durationMs)/1000)

		case caption.EventSketchFailed:
			errMsg, _ := e.Data["error"].(string)
			fmt.Fprintf(os.Stderr, " failed (%s)\n", errMsg)

		default:
			if verbose {
				fmt.Fprintf(os.Stderr, "[event] %s\n", e.Type)
			}
		}
	}
}

// printRunSummary prints the result of a captioning run.
func printRunSummary(summary *caption.Summary, outputDir string) {
	fmt.Fprintf(os.Stderr, "\n[summary]\n")
	fmt.Fprintf(os.Stderr, "  Images: %d\n", summary.TotalImages)
	fmt.Fprintf(os.Stderr, "  Successful: %d\n", summary.Successful)
	fmt.Fprintf(os.Stderr, "  Failed: %d\n", summary.Failed)
	fmt.Fprintf(os.Stderr, "  Captions: %s\n", filepath.Join(outputDir, caption.CaptionsDirname))
}

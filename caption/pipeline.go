package caption

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SummaryFilename is the name of the run summary written to the output folder.
const SummaryFilename = "captioning_summary.json"

// CaptionsDirname is the subdirectory of the output folder that holds
// per-image caption text files.
const CaptionsDirname = "captions"

// Config holds pipeline configuration.
type Config struct {
	// Captioners are queried in order for each image. At least one is required.
	Captioners []*Captioner

	// Merger combines the individual captions into one. Required.
	Merger *Merger

	// CaptionDelay is the pause after each API call. Defaults to 1s.
	CaptionDelay time.Duration

	// ImageDelay is the pause between images. Defaults to 500ms.
	ImageDelay time.Duration

	// Retry governs transient-failure retries. Zero value means DefaultRetryPolicy.
	Retry RetryPolicy

	// Events receives pipeline events. Optional.
	Events *EventEmitter

	// Logger for structured diagnostics. Defaults to a no-op logger.
	Logger *zerolog.Logger

	// Sleeper is injectable for tests.
	Sleeper Sleeper
}

// Pipeline captions images with several vision models and merges the results.
type Pipeline struct {
	captioners   []*Captioner
	merger       *Merger
	captionDelay time.Duration
	imageDelay   time.Duration
	retry        RetryPolicy
	events       *EventEmitter
	logger       zerolog.Logger
	sleeper      Sleeper
}

// NewPipeline validates the configuration and creates a Pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if len(cfg.Captioners) == 0 {
		return nil, fmt.Errorf("at least one captioner is required")
	}
	if cfg.Merger == nil {
		return nil, fmt.Errorf("merger is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	p := &Pipeline{
		captioners:   cfg.Captioners,
		merger:       cfg.Merger,
		captionDelay: cfg.CaptionDelay,
		imageDelay:   cfg.ImageDelay,
		retry:        cfg.Retry,
		events:       cfg.Events,
		logger:       logger,
		sleeper:      cfg.Sleeper,
	}
	if p.captionDelay == 0 {
		p.captionDelay = time.Second
	}
	if p.imageDelay == 0 {
		p.imageDelay = 500 * time.Millisecond
	}
	if p.retry.MaxAttempts == 0 {
		p.retry = DefaultRetryPolicy
	}
	if p.sleeper == nil {
		p.sleeper = DefaultSleeper
	}
	return p, nil
}

// ImageResult records the outcome of captioning one image.
type ImageResult struct {
	ImagePath          string            `json:"image_path"`
	ImageName          string            `json:"image_name"`
	IndividualCaptions map[string]string `json:"individual_captions"`
	UserCaption        string            `json:"user_caption"`
	MergedCaption      string            `json:"merged_caption,omitempty"`
	Success            bool              `json:"success"`
	Error              string            `json:"error,omitempty"`
}

// Summary aggregates the results of a full run.
type Summary struct {
	RunID       string        `json:"run_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	TotalImages int           `json:"total_images"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	Results     []ImageResult `json:"results"`
}

// ProcessImage runs every captioner against one image, merges the successful
// captions, and returns the result. A captioner failure is recorded under
// "<name>_error" in IndividualCaptions and does not abort the image; Success
// requires at least one caption and a successful merge.
func (p *Pipeline) ProcessImage(ctx context.Context, imagePath, userContext string) ImageResult {
	result := ImageResult{
		ImagePath:          imagePath,
		ImageName:          filepath.Base(imagePath),
		IndividualCaptions: make(map[string]string),
		UserCaption:        userContext,
	}

	var captions []string
	for _, c := range p.captioners {
		if ctx.Err() != nil {
			result.Error = ctx.Err().Error()
			return result
		}

		start := time.Now()
		text, err := callWithRetry(ctx, p.retry, p.sleeper,
			func(attempt int, delay time.Duration, err error) {
				p.logger.Warn().
					Str("captioner", c.Name()).
					Str("image", result.ImageName).
					Int("attempt", attempt).
					Dur("delay", delay).
					Err(err).
					Msg("retrying caption call")
				p.events.Emit(CallRetryingEvent(c.Name(), attempt, delay, err.Error()))
			},
			func(ctx context.Context) (string, error) {
				return c.Caption(ctx, imagePath, userContext)
			})
		if err != nil {
			p.logger.Error().
				Str("captioner", c.Name()).
				Str("image", result.ImageName).
				Err(err).
				Msg("caption failed")
			result.IndividualCaptions[c.Name()+"_error"] = err.Error()
			p.events.Emit(CaptionFailedEvent(result.ImageName, c.Name(), err.Error()))
		} else {
			result.IndividualCaptions[c.Name()] = text
			captions = append(captions, text)
			p.events.Emit(CaptionCompletedEvent(result.ImageName, c.Name(), time.Since(start)))
		}

		p.sleeper.Sleep(p.captionDelay)
	}

	if len(captions) == 0 {
		result.Error = "all captioners failed"
		return result
	}

	start := time.Now()
	merged, err := callWithRetry(ctx, p.retry, p.sleeper,
		func(attempt int, delay time.Duration, err error) {
			p.logger.Warn().
				Str("image", result.ImageName).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(err).
				Msg("retrying merge call")
			p.events.Emit(CallRetryingEvent("merge", attempt, delay, err.Error()))
		},
		func(ctx context.Context) (string, error) {
			return p.merger.Merge(ctx, captions, userContext, result.ImageName)
		})
	p.sleeper.Sleep(p.captionDelay)
	if err != nil {
		p.logger.Error().Str("image", result.ImageName).Err(err).Msg("merge failed")
		result.Error = fmt.Sprintf("merge failed: %s", err.Error())
		p.events.Emit(MergeFailedEvent(result.ImageName, err.Error()))
		return result
	}

	result.MergedCaption = merged
	result.Success = true
	p.events.Emit(MergeCompletedEvent(result.ImageName, len(captions), time.Since(start)))
	return result
}

// ProcessFile captions a single image and writes its caption file to
// outputDir. No summary is written for single-image runs.
func (p *Pipeline) ProcessFile(ctx context.Context, imagePath, outputDir string, source ContextSource, manualContext string) (ImageResult, error) {
	if !IsImageFile(imagePath) {
		return ImageResult{}, fmt.Errorf("not an image file: %s", imagePath)
	}
	if _, err := os.Stat(imagePath); err != nil {
		return ImageResult{}, fmt.Errorf("image not found: %w", err)
	}

	captionsDir := filepath.Join(outputDir, CaptionsDirname)
	if err := os.MkdirAll(captionsDir, 0o755); err != nil {
		return ImageResult{}, fmt.Errorf("creating captions directory: %w", err)
	}

	userContext := UserContextFor(source, filepath.Dir(imagePath), imagePath, manualContext)

	p.events.Emit(ImageStartedEvent(filepath.Base(imagePath), 1, 1))
	start := time.Now()
	result := p.ProcessImage(ctx, imagePath, userContext)
	if result.Success {
		if err := writeCaptionFile(captionsDir, imagePath, result.MergedCaption); err != nil {
			result.Success = false
			result.Error = err.Error()
		}
	}
	p.events.Emit(ImageCompletedEvent(result.ImageName, result.Success, time.Since(start)))
	return result, nil
}

// ProcessFolder captions every image in the input folder and writes the
// per-image caption files and the run summary to outputDir.
func (p *Pipeline) ProcessFolder(ctx context.Context, inputDir, outputDir string, source ContextSource, manualContext string) (*Summary, error) {
	images, err := DiscoverImages(inputDir)
	if err != nil {
		return nil, err
	}

	captionsDir := filepath.Join(outputDir, CaptionsDirname)
	if err := os.MkdirAll(captionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating captions directory: %w", err)
	}

	runStart := time.Now()
	p.events.Emit(RunStartedEvent(inputDir, len(images)))
	p.logger.Info().
		Str("input", inputDir).
		Int("images", len(images)).
		Msg("captioning run started")

	summary := &Summary{
		RunID:       uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		TotalImages: len(images),
		Results:     make([]ImageResult, 0, len(images)),
	}

	for i, img := range images {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		p.events.Emit(ImageStartedEvent(filepath.Base(img), i+1, len(images)))
		imgStart := time.Now()

		userContext := UserContextFor(source, inputDir, img, manualContext)
		result := p.ProcessImage(ctx, img, userContext)

		if result.Success {
			summary.Successful++
			if err := writeCaptionFile(captionsDir, img, result.MergedCaption); err != nil {
				p.logger.Error().Str("image", result.ImageName).Err(err).Msg("writing caption file")
				result.Success = false
				result.Error = err.Error()
				summary.Successful--
				summary.Failed++
			}
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, result)

		p.events.Emit(ImageCompletedEvent(result.ImageName, result.Success, time.Since(imgStart)))

		if i < len(images)-1 {
			p.sleeper.Sleep(p.imageDelay)
		}
	}

	summaryPath := filepath.Join(outputDir, SummaryFilename)
	if err := writeSummary(summaryPath, summary); err != nil {
		return summary, err
	}
	p.events.Emit(SummaryWrittenEvent(summaryPath))
	p.events.Emit(RunCompletedEvent(time.Since(runStart), summary.Successful, summary.Failed))
	p.logger.Info().
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Msg("captioning run completed")

	return summary, nil
}

func writeCaptionFile(captionsDir, imagePath, caption string) error {
	path := filepath.Join(captionsDir, ImageStem(imagePath)+".txt")
	if err := os.WriteFile(path, []byte(caption), 0o644); err != nil {
		return fmt.Errorf("writing caption file: %w", err)
	}
	return nil
}

func writeSummary(path string, summary *Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

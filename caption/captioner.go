package caption

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"captionpipe/visionllm"
)

// DefaultPrompt is the captioning prompt sent to every model when no custom
// prompt is configured.
const DefaultPrompt = "Describe this image in detail (Focus on the main garment). " +
	"Include information about objects, setting, colors, pattern, and composition. " +
	"Be specific and comprehensive."

// Captioner generates a caption for an image by calling one provider model.
type Captioner struct {
	name            string
	model           string
	prompt          string
	adapter         visionllm.ProviderAdapter
	providerOptions map[string]interface{}
}

// CaptionerOption configures a Captioner.
type CaptionerOption func(*Captioner)

// WithPrompt overrides the captioning prompt.
func WithPrompt(prompt string) CaptionerOption {
	return func(c *Captioner) {
		if prompt != "" {
			c.prompt = prompt
		}
	}
}

// WithProviderOptions sets provider-specific request options passed through
// on every caption call (e.g. a Gemini thinking budget).
func WithProviderOptions(opts map[string]interface{}) CaptionerOption {
	return func(c *Captioner) {
		c.providerOptions = opts
	}
}

// NewCaptioner creates a captioner that calls the given model through the
// given adapter. The name keys this captioner's entry in per-image results.
func NewCaptioner(name, model string, adapter visionllm.ProviderAdapter, opts ...CaptionerOption) (*Captioner, error) {
	if name == "" {
		return nil, fmt.Errorf("captioner name is required")
	}
	if model == "" {
		return nil, fmt.Errorf("captioner %q: model is required", name)
	}
	if adapter == nil {
		return nil, fmt.Errorf("captioner %q: adapter is required", name)
	}

	c := &Captioner{
		name:    name,
		model:   model,
		prompt:  DefaultPrompt,
		adapter: adapter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the captioner's result key.
func (c *Captioner) Name() string { return c.name }

// Model returns the configured model identifier.
func (c *Captioner) Model() string { return c.model }

// Caption reads the image file and generates a caption for it. An optional
// extra context string is appended to the prompt.
func (c *Captioner) Caption(ctx context.Context, imagePath, extraContext string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	prompt := c.prompt
	if extraContext != "" {
		prompt += " Additional context: " + extraContext
	}

	resp, err := c.adapter.Complete(ctx, visionllm.Request{
		Model: c.model,
		Messages: []visionllm.Message{
			visionllm.UserImageMessage(prompt, visionllm.ImageData{
				Data:      data,
				MediaType: MediaTypeForPath(imagePath),
			}),
		},
		ProviderOptions: c.providerOptions,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("model %s returned an empty caption (finish reason %q)", c.model, resp.FinishReason.Reason)
	}
	return text, nil
}

// MediaTypeForPath maps an image file extension to its MIME type.
// Unknown extensions default to image/jpeg.
func MediaTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tiff":
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}

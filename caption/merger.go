package caption

import (
	"context"
	"fmt"
	"strings"

	"captionpipe/visionllm"
)

// Merger combines multiple per-model captions into a single description by
// calling the designated merge model.
type Merger struct {
	model           string
	adapter         visionllm.ProviderAdapter
	providerOptions map[string]interface{}
}

// MergerOption configures a Merger.
type MergerOption func(*Merger)

// WithMergerProviderOptions sets provider-specific request options passed
// through on every merge call.
func WithMergerProviderOptions(opts map[string]interface{}) MergerOption {
	return func(m *Merger) {
		m.providerOptions = opts
	}
}

// NewMerger creates a merger that calls the given model through the given
// adapter.
func NewMerger(model string, adapter visionllm.ProviderAdapter, opts ...MergerOption) (*Merger, error) {
	if model == "" {
		return nil, fmt.Errorf("merger: model is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("merger: adapter is required")
	}

	m := &Merger{model: model, adapter: adapter}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Model returns the configured merge model identifier.
func (m *Merger) Model() string { return m.model }

// Merge combines the given captions into one comprehensive caption.
// userContext and imageName are included as auxiliary context for the model.
func (m *Merger) Merge(ctx context.Context, captions []string, userContext, imageName string) (string, error) {
	if len(captions) == 0 {
		return "", fmt.Errorf("no captions to merge")
	}

	resp, err := m.adapter.Complete(ctx, visionllm.Request{
		Model: m.model,
		Messages: []visionllm.Message{
			visionllm.UserMessage(buildMergePrompt(captions, userContext, imageName)),
		},
		ProviderOptions: m.providerOptions,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("model %s returned an empty merged caption (finish reason %q)", m.model, resp.FinishReason.Reason)
	}
	return text, nil
}

// buildMergePrompt enumerates the captions and lays out the merge
// instructions for the model.
func buildMergePrompt(captions []string, userContext, imageName string) string {
	var sb strings.Builder

	sb.WriteString("You are tasked with merging multiple image captions into a single, comprehensive, and well-written caption.\n\n")
	sb.WriteString("Here are the captions to merge:\n")
	for i, c := range captions {
		fmt.Fprintf(&sb, "Caption %d: %s\n", i+1, c)
	}

	sb.WriteString("\nAdditional user context: ")
	sb.WriteString(orNone(userContext))
	sb.WriteString("\nImage filename context: ")
	sb.WriteString(orNone(imageName))

	sb.WriteString("\n\nInstructions:\n")
	sb.WriteString("1. Combine all unique information from the captions\n")
	sb.WriteString("2. Remove any duplicate or redundant information\n")
	sb.WriteString("3. Create a coherent, flowing description\n")
	sb.WriteString("4. Prioritize accuracy and completeness\n")
	sb.WriteString("5. Keep the merged caption concise but comprehensive\n")
	sb.WriteString("6. If there are conflicting details, use the most commonly mentioned or most specific one\n")
	sb.WriteString("\nProvide only the merged caption as your response.")

	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "None provided"
	}
	return s
}

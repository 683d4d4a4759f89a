package visionllm

import (
	"context"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind identifies the kind of a content part.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// ImageData holds image content for a multimodal message part.
// Either URL or Data is set; Data is base64-encoded on the wire by each
// adapter according to its provider's convention.
type ImageData struct {
	URL       string
	Data      []byte
	MediaType string // e.g. "image/jpeg"; adapters default to "image/png"
}

// ContentPart is one element of a message's content.
type ContentPart struct {
	Kind  ContentKind
	Text  string
	Image *ImageData
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ImagePart creates an image content part.
func ImagePart(img ImageData) ContentPart {
	return ContentPart{Kind: ContentImage, Image: &img}
}

// Message is a single conversation message.
type Message struct {
	Role    Role
	Content []ContentPart
}

// SystemMessage creates a system message with a single text part.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

// UserMessage creates a user message with a single text part.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// UserImageMessage creates a user message carrying a text prompt and an image.
func UserImageMessage(text string, img ImageData) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text), ImagePart(img)}}
}

// TextContent concatenates all text parts of the message.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model         string
	Messages      []Message
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
	StopSequences []string

	// ProviderOptions carries provider-specific request fields keyed by
	// provider name (e.g. "gemini" -> {"thinking": {...}}).
	ProviderOptions map[string]interface{}
}

// FinishReason describes why generation stopped. Reason is normalized across
// providers ("stop", "length", "content_filter", "error", "other"); Raw is
// the provider's original value.
type FinishReason struct {
	Reason string
	Raw    string
}

// Usage reports token accounting for a completion.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	ReasoningTokens *int
	CacheReadTokens *int
	Raw             map[string]interface{}
}

// RateLimitInfo holds rate limit state parsed from response headers.
type RateLimitInfo struct {
	RequestsRemaining *int
	RequestsLimit     *int
	TokensRemaining   *int
	TokensLimit       *int
	ResetAt           *time.Time
}

// Response is a provider-agnostic completion response.
type Response struct {
	ID           string
	Provider     string
	Model        string
	Message      Message
	FinishReason FinishReason
	Usage        Usage
	RateLimit    *RateLimitInfo
	Raw          map[string]interface{}
}

// Text returns the concatenated text content of the response message.
func (r *Response) Text() string {
	return r.Message.TextContent()
}

// ProviderAdapter is the interface implemented by each native HTTP adapter.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "gemini").
	Name() string
	// Complete sends a blocking completion request.
	Complete(ctx context.Context, req Request) (*Response, error)
}

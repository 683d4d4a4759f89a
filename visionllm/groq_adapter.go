package visionllm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// GroqAdapter implements ProviderAdapter for Groq's OpenAI-compatible
// chat completions API.
type GroqAdapter struct {
	apiKey  string
	baseURL string
	http    *httpClient
}

// GroqAdapterOption configures a GroqAdapter.
type GroqAdapterOption func(*GroqAdapter)

// WithGroqBaseURL sets a custom base URL.
func WithGroqBaseURL(url string) GroqAdapterOption {
	return func(a *GroqAdapter) {
		a.baseURL = strings.TrimRight(url, "/")
	}
}

// NewGroqAdapter creates a new Groq adapter.
func NewGroqAdapter(apiKey string, opts ...GroqAdapterOption) (*GroqAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "GROQ_API_KEY is required",
		}}
	}

	a := &GroqAdapter{
		apiKey:  apiKey,
		baseURL: "https://api.groq.com/openai",
		http:    newHTTPClient(),
	}

	if envURL := os.Getenv("GROQ_BASE_URL"); envURL != "" {
		a.baseURL = strings.TrimRight(envURL, "/")
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func (a *GroqAdapter) Name() string { return "groq" }

// Complete sends a blocking request to the chat completions endpoint.
func (a *GroqAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := a.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to create request", Cause: err}}
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
		}
		return nil, &NetworkError{SDKError: SDKError{Message: "request failed", Cause: err}}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, buildErrorFromResponse(resp, "groq")
	}

	return a.parseResponse(resp)
}

func (a *GroqAdapter) buildRequestBody(req Request) ([]byte, error) {
	body := map[string]interface{}{
		"model": req.Model,
	}

	var messages []interface{}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, map[string]interface{}{
				"role":    "system",
				"content": msg.TextContent(),
			})
		case RoleUser:
			messages = append(messages, map[string]interface{}{
				"role":    "user",
				"content": a.translateUserContent(msg),
			})
		case RoleAssistant:
			messages = append(messages, map[string]interface{}{
				"role":    "assistant",
				"content": msg.TextContent(),
			})
		}
	}
	body["messages"] = messages

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		body["stop"] = req.StopSequences
	}

	if opts, ok := req.ProviderOptions["groq"].(map[string]interface{}); ok {
		for k, v := range opts {
			body[k] = v
		}
	}

	return json.Marshal(body)
}

// translateUserContent builds the content array for a user message. Images
// are sent as data: URLs per the OpenAI-compatible multimodal convention.
func (a *GroqAdapter) translateUserContent(msg Message) []interface{} {
	var content []interface{}
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			content = append(content, map[string]interface{}{
				"type": "text",
				"text": part.Text,
			})
		case ContentImage:
			if part.Image == nil {
				continue
			}
			var imageURL string
			if part.Image.URL != "" {
				imageURL = part.Image.URL
			} else if len(part.Image.Data) > 0 {
				mediaType := part.Image.MediaType
				if mediaType == "" {
					mediaType = "image/png"
				}
				imageURL = fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(part.Image.Data))
			}
			if imageURL != "" {
				content = append(content, map[string]interface{}{
					"type": "image_url",
					"image_url": map[string]interface{}{
						"url": imageURL,
					},
				})
			}
		}
	}
	return content
}

func (a *GroqAdapter) parseResponse(resp *http.Response) (*Response, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to read response", Cause: err}}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "failed to parse response JSON", Cause: err},
			Provider: "groq",
		}}
	}

	response := &Response{
		Provider: "groq",
		Raw:      raw,
		Message:  Message{Role: RoleAssistant},
	}

	if id, ok := raw["id"].(string); ok {
		response.ID = id
	}
	if model, ok := raw["model"].(string); ok {
		response.Model = model
	}

	if choices, ok := raw["choices"].([]interface{}); ok && len(choices) > 0 {
		choice, ok := choices[0].(map[string]interface{})
		if ok {
			if message, ok := choice["message"].(map[string]interface{}); ok {
				if content, ok := message["content"].(string); ok && content != "" {
					response.Message.Content = append(response.Message.Content, TextPart(content))
				}
			}
			if fr, ok := choice["finish_reason"].(string); ok {
				response.FinishReason = a.mapFinishReason(fr)
			}
		}
	}

	response.Usage = a.parseUsage(raw)
	response.RateLimit = parseRateLimitHeaders(resp.Header)

	return response, nil
}

func (a *GroqAdapter) mapFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishReason{Reason: "stop", Raw: reason}
	case "length":
		return FinishReason{Reason: "length", Raw: reason}
	case "content_filter":
		return FinishReason{Reason: "content_filter", Raw: reason}
	default:
		return FinishReason{Reason: "other", Raw: reason}
	}
}

func (a *GroqAdapter) parseUsage(raw map[string]interface{}) Usage {
	usage := Usage{}
	usageMap, ok := raw["usage"].(map[string]interface{})
	if !ok {
		return usage
	}

	if v, ok := usageMap["prompt_tokens"].(float64); ok {
		usage.InputTokens = int(v)
	}
	if v, ok := usageMap["completion_tokens"].(float64); ok {
		usage.OutputTokens = int(v)
	}
	if v, ok := usageMap["total_tokens"].(float64); ok {
		usage.TotalTokens = int(v)
	} else {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	usage.Raw = usageMap
	return usage
}

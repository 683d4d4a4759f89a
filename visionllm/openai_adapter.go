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

// OpenAIAdapter implements ProviderAdapter for the OpenAI Responses API.
type OpenAIAdapter struct {
	apiKey  string
	baseURL string
	http    *httpClient
}

// OpenAIAdapterOption configures an OpenAIAdapter.
type OpenAIAdapterOption func(*OpenAIAdapter)

// WithOpenAIBaseURL sets a custom base URL.
func WithOpenAIBaseURL(url string) OpenAIAdapterOption {
	return func(a *OpenAIAdapter) {
		a.baseURL = strings.TrimRight(url, "/")
	}
}

// NewOpenAIAdapter creates a new OpenAI adapter using the Responses API.
func NewOpenAIAdapter(apiKey string, opts ...OpenAIAdapterOption) (*OpenAIAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "OPENAI_API_KEY is required",
		}}
	}

	a := &OpenAIAdapter{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com",
		http:    newHTTPClient(),
	}

	if envURL := os.Getenv("OPENAI_BASE_URL"); envURL != "" {
		a.baseURL = strings.TrimRight(envURL, "/")
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// Complete sends a blocking request to the OpenAI Responses API.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := a.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/responses", bytes.NewReader(body))
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
		return nil, buildErrorFromResponse(resp, "openai")
	}

	return a.parseResponse(resp)
}

func (a *OpenAIAdapter) buildRequestBody(req Request) ([]byte, error) {
	body := map[string]interface{}{
		"model": req.Model,
	}

	// System messages become instructions; user/assistant messages
	// become input items.
	var instructions []string
	var input []interface{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			instructions = append(instructions, msg.TextContent())
		case RoleUser:
			input = append(input, a.translateUserMessage(msg))
		case RoleAssistant:
			input = append(input, map[string]interface{}{
				"type": "message",
				"role": "assistant",
				"content": []interface{}{
					map[string]interface{}{
						"type": "output_text",
						"text": msg.TextContent(),
					},
				},
			})
		}
	}

	if len(instructions) > 0 {
		body["instructions"] = strings.Join(instructions, "\n\n")
	}
	if len(input) > 0 {
		body["input"] = input
	}

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		body["max_output_tokens"] = *req.MaxTokens
	}

	if opts, ok := req.ProviderOptions["openai"].(map[string]interface{}); ok {
		for k, v := range opts {
			body[k] = v
		}
	}

	return json.Marshal(body)
}

func (a *OpenAIAdapter) translateUserMessage(msg Message) map[string]interface{} {
	item := map[string]interface{}{
		"type": "message",
		"role": "user",
	}

	var content []interface{}
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			content = append(content, map[string]interface{}{
				"type": "input_text",
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
					"type":      "input_image",
					"image_url": imageURL,
				})
			}
		}
	}

	item["content"] = content
	return item
}

func (a *OpenAIAdapter) parseResponse(resp *http.Response) (*Response, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to read response", Cause: err}}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "failed to parse response JSON", Cause: err},
			Provider: "openai",
		}}
	}

	response := &Response{
		Provider: "openai",
		Raw:      raw,
		Message:  Message{Role: RoleAssistant},
	}

	if id, ok := raw["id"].(string); ok {
		response.ID = id
	}
	if model, ok := raw["model"].(string); ok {
		response.Model = model
	}

	// Parse output items
	if output, ok := raw["output"].([]interface{}); ok {
		for _, item := range output {
			itemMap, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if itemType, _ := itemMap["type"].(string); itemType != "message" {
				continue
			}
			if content, ok := itemMap["content"].([]interface{}); ok {
				for _, c := range content {
					cMap, ok := c.(map[string]interface{})
					if !ok {
						continue
					}
					if cType, _ := cMap["type"].(string); cType == "output_text" {
						if text, ok := cMap["text"].(string); ok {
							response.Message.Content = append(response.Message.Content, TextPart(text))
						}
					}
				}
			}
		}
	}

	if status, ok := raw["status"].(string); ok {
		response.FinishReason = a.mapFinishReason(status)
	}

	response.Usage = a.parseUsage(raw)
	response.RateLimit = parseRateLimitHeaders(resp.Header)

	return response, nil
}

func (a *OpenAIAdapter) mapFinishReason(status string) FinishReason {
	switch status {
	case "completed":
		return FinishReason{Reason: "stop", Raw: status}
	case "incomplete":
		return FinishReason{Reason: "length", Raw: status}
	case "failed":
		return FinishReason{Reason: "error", Raw: status}
	default:
		return FinishReason{Reason: "other", Raw: status}
	}
}

func (a *OpenAIAdapter) parseUsage(raw map[string]interface{}) Usage {
	usage := Usage{}
	usageMap, ok := raw["usage"].(map[string]interface{})
	if !ok {
		return usage
	}

	if v, ok := usageMap["input_tokens"].(float64); ok {
		usage.InputTokens = int(v)
	}
	if v, ok := usageMap["output_tokens"].(float64); ok {
		usage.OutputTokens = int(v)
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	if details, ok := usageMap["output_tokens_details"].(map[string]interface{}); ok {
		if v, ok := details["reasoning_tokens"].(float64); ok {
			rt := int(v)
			usage.ReasoningTokens = &rt
		}
	}
	if details, ok := usageMap["input_tokens_details"].(map[string]interface{}); ok {
		if v, ok := details["cached_tokens"].(float64); ok {
			ct := int(v)
			usage.CacheReadTokens = &ct
		}
	}

	usage.Raw = usageMap
	return usage
}

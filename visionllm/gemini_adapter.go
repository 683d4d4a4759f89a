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

// GeminiAdapter implements ProviderAdapter for the Gemini API.
type GeminiAdapter struct {
	apiKey  string
	baseURL string
	http    *httpClient
}

// GeminiAdapterOption configures a GeminiAdapter.
type GeminiAdapterOption func(*GeminiAdapter)

// WithGeminiBaseURL sets a custom base URL.
func WithGeminiBaseURL(url string) GeminiAdapterOption {
	return func(a *GeminiAdapter) {
		a.baseURL = strings.TrimRight(url, "/")
	}
}

// NewGeminiAdapter creates a new Gemini adapter.
func NewGeminiAdapter(apiKey string, opts ...GeminiAdapterOption) (*GeminiAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "GEMINI_API_KEY or GOOGLE_API_KEY is required",
		}}
	}

	a := &GeminiAdapter{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
		http:    newHTTPClient(),
	}

	if envURL := os.Getenv("GEMINI_BASE_URL"); envURL != "" {
		a.baseURL = strings.TrimRight(envURL, "/")
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

// Complete sends a blocking request to the Gemini API.
func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := a.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.baseURL, req.Model, a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to create request", Cause: err}}
	}
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
		return nil, buildErrorFromResponse(resp, "gemini")
	}

	return a.parseResponse(resp)
}

func (a *GeminiAdapter) buildRequestBody(req Request) ([]byte, error) {
	body := map[string]interface{}{}

	// System messages become the systemInstruction; user/assistant messages
	// become contents with role user/model.
	var systemParts []interface{}
	var contents []interface{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			for _, part := range msg.Content {
				if part.Kind == ContentText {
					systemParts = append(systemParts, map[string]interface{}{
						"text": part.Text,
					})
				}
			}
		case RoleUser:
			contents = append(contents, map[string]interface{}{
				"role":  "user",
				"parts": a.translateUserParts(msg),
			})
		case RoleAssistant:
			var parts []interface{}
			for _, part := range msg.Content {
				if part.Kind == ContentText {
					parts = append(parts, map[string]interface{}{"text": part.Text})
				}
			}
			if len(parts) == 0 {
				parts = append(parts, map[string]interface{}{"text": ""})
			}
			contents = append(contents, map[string]interface{}{
				"role":  "model",
				"parts": parts,
			})
		}
	}

	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]interface{}{
			"parts": systemParts,
		}
	}
	if len(contents) > 0 {
		body["contents"] = contents
	}

	// Generation config
	genConfig := map[string]interface{}{}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if req.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		genConfig["stopSequences"] = req.StopSequences
	}

	// Provider options: "thinking" merges into generationConfig.thinkingConfig,
	// everything else merges into the top-level body.
	if opts, ok := req.ProviderOptions["gemini"].(map[string]interface{}); ok {
		if thinking, ok := opts["thinking"]; ok {
			genConfig["thinkingConfig"] = thinking
		}
		for k, v := range opts {
			if k != "thinking" {
				body[k] = v
			}
		}
	}

	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	return json.Marshal(body)
}

func (a *GeminiAdapter) translateUserParts(msg Message) []interface{} {
	var parts []interface{}
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			parts = append(parts, map[string]interface{}{
				"text": part.Text,
			})
		case ContentImage:
			if part.Image == nil {
				continue
			}
			mediaType := part.Image.MediaType
			if mediaType == "" {
				mediaType = "image/png"
			}
			if part.Image.URL != "" {
				parts = append(parts, map[string]interface{}{
					"fileData": map[string]interface{}{
						"mimeType": mediaType,
						"fileUri":  part.Image.URL,
					},
				})
			} else if len(part.Image.Data) > 0 {
				parts = append(parts, map[string]interface{}{
					"inlineData": map[string]interface{}{
						"mimeType": mediaType,
						"data":     base64.StdEncoding.EncodeToString(part.Image.Data),
					},
				})
			}
		}
	}
	if len(parts) == 0 {
		parts = append(parts, map[string]interface{}{"text": ""})
	}
	return parts
}

func (a *GeminiAdapter) parseResponse(resp *http.Response) (*Response, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to read response", Cause: err}}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "failed to parse response JSON", Cause: err},
			Provider: "gemini",
		}}
	}

	response := &Response{
		Provider: "gemini",
		Raw:      raw,
		Message:  Message{Role: RoleAssistant},
	}

	if candidates, ok := raw["candidates"].([]interface{}); ok && len(candidates) > 0 {
		candidate, ok := candidates[0].(map[string]interface{})
		if ok {
			if content, ok := candidate["content"].(map[string]interface{}); ok {
				if parts, ok := content["parts"].([]interface{}); ok {
					for _, p := range parts {
						pm, ok := p.(map[string]interface{})
						if !ok {
							continue
						}
						if text, ok := pm["text"].(string); ok {
							response.Message.Content = append(response.Message.Content, TextPart(text))
						}
					}
				}
			}

			if fr, ok := candidate["finishReason"].(string); ok {
				response.FinishReason = a.mapFinishReason(fr)
			}
		}
	}

	response.Usage = a.parseUsage(raw)

	if model, ok := raw["modelVersion"].(string); ok {
		response.Model = model
	}

	return response, nil
}

func (a *GeminiAdapter) mapFinishReason(reason string) FinishReason {
	switch reason {
	case "STOP":
		return FinishReason{Reason: "stop", Raw: reason}
	case "MAX_TOKENS":
		return FinishReason{Reason: "length", Raw: reason}
	case "SAFETY", "RECITATION":
		return FinishReason{Reason: "content_filter", Raw: reason}
	default:
		return FinishReason{Reason: "other", Raw: reason}
	}
}

func (a *GeminiAdapter) parseUsage(raw map[string]interface{}) Usage {
	usage := Usage{}
	usageMap, ok := raw["usageMetadata"].(map[string]interface{})
	if !ok {
		return usage
	}

	if v, ok := usageMap["promptTokenCount"].(float64); ok {
		usage.InputTokens = int(v)
	}
	if v, ok := usageMap["candidatesTokenCount"].(float64); ok {
		usage.OutputTokens = int(v)
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	if v, ok := usageMap["thoughtsTokenCount"].(float64); ok {
		rt := int(v)
		usage.ReasoningTokens = &rt
	}
	if v, ok := usageMap["cachedContentTokenCount"].(float64); ok {
		ct := int(v)
		usage.CacheReadTokens = &ct
	}

	usage.Raw = usageMap
	return usage
}

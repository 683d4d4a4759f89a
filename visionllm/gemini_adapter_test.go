package visionllm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGeminiAdapter(t *testing.T, handler http.HandlerFunc) (*GeminiAdapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	adapter := &GeminiAdapter{
		apiKey:  "test-key",
		baseURL: server.URL,
		http:    newHTTPClient(),
	}
	return adapter, server
}

func TestGeminiAdapterName(t *testing.T) {
	adapter := &GeminiAdapter{}
	assert.Equal(t, "gemini", adapter.Name())
}

func TestGeminiAdapterComplete(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Contains(t, r.URL.Path, "/v1beta/models/gemini-2.5-flash:generateContent")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var reqBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &reqBody))

		// Verify system instruction
		sysInst, ok := reqBody["systemInstruction"].(map[string]interface{})
		require.True(t, ok)
		parts := sysInst["parts"].([]interface{})
		require.Len(t, parts, 1)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{
					"content": map[string]interface{}{
						"role": "model",
						"parts": []interface{}{
							map[string]interface{}{"text": "A red dress on a mannequin."},
						},
					},
					"finishReason": "STOP",
				},
			},
			"usageMetadata": map[string]interface{}{
				"promptTokenCount":     float64(12),
				"candidatesTokenCount": float64(6),
				"thoughtsTokenCount":   float64(3),
			},
			"modelVersion": "gemini-2.5-flash",
		})
	}

	adapter, server := newTestGeminiAdapter(t, handler)
	defer server.Close()

	resp, err := adapter.Complete(context.Background(), Request{
		Model: "gemini-2.5-flash",
		Messages: []Message{
			SystemMessage("You are helpful."),
			UserMessage("Describe."),
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "A red dress on a mannequin.", resp.Text())
	assert.Equal(t, "stop", resp.FinishReason.Reason)
	assert.Equal(t, "STOP", resp.FinishReason.Raw)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 6, resp.Usage.OutputTokens)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	require.NotNil(t, resp.Usage.ReasoningTokens)
	assert.Equal(t, 3, *resp.Usage.ReasoningTokens)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
}

func TestGeminiAdapterInlineImage(t *testing.T) {
	imgBytes := []byte{0xFF, 0xD8, 0xFF, 0xE0} // jpeg magic

	var capturedBody map[string]interface{}
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &capturedBody)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{
					"content": map[string]interface{}{
						"role":  "model",
						"parts": []interface{}{map[string]interface{}{"text": "ok"}},
					},
					"finishReason": "STOP",
				},
			},
		})
	}

	adapter, server := newTestGeminiAdapter(t, handler)
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model: "gemini-2.5-flash",
		Messages: []Message{
			UserImageMessage("Describe this image.", ImageData{Data: imgBytes, MediaType: "image/jpeg"}),
		},
	})
	require.NoError(t, err)

	contents := capturedBody["contents"].([]interface{})
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]interface{})["parts"].([]interface{})
	require.Len(t, parts, 2)

	textPart := parts[0].(map[string]interface{})
	assert.Equal(t, "Describe this image.", textPart["text"])

	imagePart := parts[1].(map[string]interface{})
	inline := imagePart["inlineData"].(map[string]interface{})
	assert.Equal(t, "image/jpeg", inline["mimeType"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(imgBytes), inline["data"])
}

func TestGeminiAdapterThinkingConfig(t *testing.T) {
	var capturedBody map[string]interface{}
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &capturedBody)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{
					"content": map[string]interface{}{
						"role":  "model",
						"parts": []interface{}{map[string]interface{}{"text": "ok"}},
					},
					"finishReason": "STOP",
				},
			},
		})
	}

	adapter, server := newTestGeminiAdapter(t, handler)
	defer server.Close()

	temp := 0.2
	maxTokens := 512
	_, err := adapter.Complete(context.Background(), Request{
		Model:       "gemini-2.5-flash",
		Messages:    []Message{UserMessage("hi")},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		ProviderOptions: map[string]interface{}{
			"gemini": map[string]interface{}{
				"thinking": map[string]interface{}{"thinkingBudget": 0},
			},
		},
	})
	require.NoError(t, err)

	genConfig, ok := capturedBody["generationConfig"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0.2, genConfig["temperature"])
	assert.Equal(t, float64(512), genConfig["maxOutputTokens"])

	thinking, ok := genConfig["thinkingConfig"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(0), thinking["thinkingBudget"])
}

func TestGeminiAdapterFinishReasonMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"STOP", "stop"},
		{"MAX_TOKENS", "length"},
		{"SAFETY", "content_filter"},
		{"RECITATION", "content_filter"},
		{"OTHER", "other"},
	}

	adapter := &GeminiAdapter{}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			fr := adapter.mapFinishReason(tt.raw)
			assert.Equal(t, tt.want, fr.Reason)
			assert.Equal(t, tt.raw, fr.Raw)
		})
	}
}

func TestGeminiAdapterBlockedResponse(t *testing.T) {
	// A safety-blocked response has a candidate with no content parts.
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{
					"finishReason": "SAFETY",
				},
			},
		})
	}

	adapter, server := newTestGeminiAdapter(t, handler)
	defer server.Close()

	resp, err := adapter.Complete(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		Messages: []Message{UserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Text())
	assert.Equal(t, "content_filter", resp.FinishReason.Reason)
}

func TestGeminiAdapterErrorResponse(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}

	adapter, server := newTestGeminiAdapter(t, handler)
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		Messages: []Message{UserMessage("hi")},
	})
	require.Error(t, err)

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "gemini", rlErr.Provider)
	assert.Contains(t, rlErr.Message, "quota exceeded")
}

func TestNewGeminiAdapterRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	_, err := NewGeminiAdapter("")
	require.Error(t, err)

	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewGeminiAdapterEnvFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "from-google-env")

	adapter, err := NewGeminiAdapter("")
	require.NoError(t, err)
	assert.Equal(t, "from-google-env", adapter.apiKey)
}

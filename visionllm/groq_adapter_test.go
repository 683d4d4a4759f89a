package visionllm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroqAdapter(t *testing.T, handler http.HandlerFunc) (*GroqAdapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	adapter := &GroqAdapter{
		apiKey:  "test-key",
		baseURL: server.URL,
		http:    newHTTPClient(),
	}
	return adapter, server
}

func TestGroqAdapterName(t *testing.T) {
	adapter := &GroqAdapter{}
	assert.Equal(t, "groq", adapter.Name())
}

func TestGroqAdapterComplete(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("x-ratelimit-remaining-requests", "99")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "chatcmpl-123",
			"model": "llama-3.1-8b-instant",
			"choices": []interface{}{
				map[string]interface{}{
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": "A wool coat in navy blue.",
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]interface{}{
				"prompt_tokens":     float64(20),
				"completion_tokens": float64(8),
				"total_tokens":      float64(28),
			},
		})
	}

	adapter, server := newTestGroqAdapter(t, handler)
	defer server.Close()

	resp, err := adapter.Complete(context.Background(), Request{
		Model:    "llama-3.1-8b-instant",
		Messages: []Message{UserMessage("Describe.")},
	})

	require.NoError(t, err)
	assert.Equal(t, "groq", resp.Provider)
	assert.Equal(t, "chatcmpl-123", resp.ID)
	assert.Equal(t, "llama-3.1-8b-instant", resp.Model)
	assert.Equal(t, "A wool coat in navy blue.", resp.Text())
	assert.Equal(t, "stop", resp.FinishReason.Reason)
	assert.Equal(t, 20, resp.Usage.InputTokens)
	assert.Equal(t, 8, resp.Usage.OutputTokens)
	assert.Equal(t, 28, resp.Usage.TotalTokens)
	require.NotNil(t, resp.RateLimit)
	assert.Equal(t, 99, *resp.RateLimit.RequestsRemaining)
}

func TestGroqAdapterImageDataURL(t *testing.T) {
	imgBytes := []byte{0x89, 0x50, 0x4E, 0x47} // png magic

	var capturedBody map[string]interface{}
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &capturedBody)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []interface{}{
				map[string]interface{}{
					"message":       map[string]interface{}{"role": "assistant", "content": "ok"},
					"finish_reason": "stop",
				},
			},
		})
	}

	adapter, server := newTestGroqAdapter(t, handler)
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model: "llama-3.1-8b-instant",
		Messages: []Message{
			UserImageMessage("Describe this image.", ImageData{Data: imgBytes, MediaType: "image/png"}),
		},
	})
	require.NoError(t, err)

	messages := capturedBody["messages"].([]interface{})
	require.Len(t, messages, 1)
	content := messages[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 2)

	textPart := content[0].(map[string]interface{})
	assert.Equal(t, "text", textPart["type"])
	assert.Equal(t, "Describe this image.", textPart["text"])

	imagePart := content[1].(map[string]interface{})
	assert.Equal(t, "image_url", imagePart["type"])
	url := imagePart["image_url"].(map[string]interface{})["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(imgBytes), strings.TrimPrefix(url, "data:image/png;base64,"))
}

func TestGroqAdapterSystemMessage(t *testing.T) {
	var capturedBody map[string]interface{}
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &capturedBody)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []interface{}{
				map[string]interface{}{
					"message":       map[string]interface{}{"role": "assistant", "content": "ok"},
					"finish_reason": "stop",
				},
			},
		})
	}

	adapter, server := newTestGroqAdapter(t, handler)
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model: "llama-3.1-8b-instant",
		Messages: []Message{
			SystemMessage("You caption images."),
			UserMessage("hi"),
		},
	})
	require.NoError(t, err)

	messages := capturedBody["messages"].([]interface{})
	require.Len(t, messages, 2)
	sys := messages[0].(map[string]interface{})
	assert.Equal(t, "system", sys["role"])
	assert.Equal(t, "You caption images.", sys["content"])
}

func TestGroqAdapterGenerationParams(t *testing.T) {
	var capturedBody map[string]interface{}
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &capturedBody)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []interface{}{
				map[string]interface{}{
					"message":       map[string]interface{}{"role": "assistant", "content": "ok"},
					"finish_reason": "stop",
				},
			},
		})
	}

	adapter, server := newTestGroqAdapter(t, handler)
	defer server.Close()

	temp := 0.7
	topP := 0.9
	maxTokens := 256
	_, err := adapter.Complete(context.Background(), Request{
		Model:         "llama-3.1-8b-instant",
		Messages:      []Message{UserMessage("hi")},
		Temperature:   &temp,
		TopP:          &topP,
		MaxTokens:     &maxTokens,
		StopSequences: []string{"END"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.7, capturedBody["temperature"])
	assert.Equal(t, 0.9, capturedBody["top_p"])
	assert.Equal(t, float64(256), capturedBody["max_tokens"])
	assert.Equal(t, []interface{}{"END"}, capturedBody["stop"])
}

func TestGroqAdapterErrorResponse(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`))
	}

	adapter, server := newTestGroqAdapter(t, handler)
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model:    "llama-3.1-8b-instant",
		Messages: []Message{UserMessage("hi")},
	})
	require.Error(t, err)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "groq", authErr.Provider)
	assert.Equal(t, "invalid_request_error", authErr.Code)
}

func TestNewGroqAdapterRequiresKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")

	_, err := NewGroqAdapter("")
	require.Error(t, err)

	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

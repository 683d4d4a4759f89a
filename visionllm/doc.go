// Package visionllm provides native HTTP adapters for hosted multimodal LLM
// APIs, presenting a provider-agnostic completion interface suitable for
// image captioning calls.
//
// # Adapters
//
// Three native HTTP adapters speak each provider's API directly:
//
//   - GeminiAdapter: Gemini API (/v1beta/models/*/generateContent) with
//     inline image data and thinking-budget control
//   - GroqAdapter: Groq's OpenAI-compatible chat completions API
//     (/openai/v1/chat/completions) with data: URL image parts
//   - OpenAIAdapter: OpenAI Responses API (/v1/responses) with
//     input_text/input_image parts
//
// # Usage
//
//	adapter, _ := visionllm.NewGeminiAdapter(os.Getenv("GEMINI_API_KEY"))
//	resp, err := adapter.Complete(ctx, visionllm.Request{
//	    Model: "gemini-2.5-flash",
//	    Messages: []visionllm.Message{
//	        visionllm.UserImageMessage("Describe this image.", visionllm.ImageData{
//	            Data:      imgBytes,
//	            MediaType: "image/jpeg",
//	        }),
//	    },
//	})
//
// # Errors
//
// Failures are returned as typed errors: ConfigurationError for construction
// problems, NetworkError for transport failures, and per-status provider
// errors (AuthenticationError, RateLimitError, ServerError, ...) built by
// ErrorFromStatusCode. IsRetryable reports which of them are transient.
package visionllm

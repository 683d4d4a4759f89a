package visionllm

import "fmt"

// SDKError is the base error type embedded by all errors in this package.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error { return e.Cause }

// ConfigurationError indicates invalid or missing client configuration,
// such as a missing API key.
type ConfigurationError struct {
	SDKError
}

// NetworkError indicates a transport-level failure before a well-formed
// provider response was received.
type NetworkError struct {
	SDKError
}

// AbortError indicates the request was cancelled via its context.
type AbortError struct {
	SDKError
}

// ProviderError is the base type for errors reported by a provider API.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Code       string                 // provider error code or type, when present
	RetryAfter *float64               // seconds, from Retry-After when present
	Raw        map[string]interface{} // decoded error body, when parseable
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// AuthenticationError indicates a 401 response.
type AuthenticationError struct {
	ProviderError
}

// AccessDeniedError indicates a 403 response.
type AccessDeniedError struct {
	ProviderError
}

// NotFoundError indicates a 404 response, typically an unknown model.
type NotFoundError struct {
	ProviderError
}

// InvalidRequestError indicates a 4xx response the provider rejected, or a
// response body that could not be parsed.
type InvalidRequestError struct {
	ProviderError
}

// RateLimitError indicates a 429 response.
type RateLimitError struct {
	ProviderError
}

// ServerError indicates a 5xx response.
type ServerError struct {
	ProviderError
}

// ErrorFromStatusCode maps an HTTP status code to a typed provider error.
func ErrorFromStatusCode(statusCode int, message, provider, code string, raw map[string]interface{}, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		Code:       code,
		RetryAfter: retryAfter,
		Raw:        raw,
	}

	switch {
	case statusCode == 401:
		return &AuthenticationError{ProviderError: pe}
	case statusCode == 403:
		return &AccessDeniedError{ProviderError: pe}
	case statusCode == 404:
		return &NotFoundError{ProviderError: pe}
	case statusCode == 429:
		return &RateLimitError{ProviderError: pe}
	case statusCode >= 500:
		return &ServerError{ProviderError: pe}
	default:
		return &InvalidRequestError{ProviderError: pe}
	}
}

// IsRetryable reports whether the error is transient: rate limits, server
// errors, and network failures are worth retrying; authentication and
// request-shape errors are not.
func IsRetryable(err error) bool {
	switch err.(type) {
	case *RateLimitError, *ServerError, *NetworkError:
		return true
	}
	return false
}

// RetryAfterSeconds returns the provider-suggested retry delay in seconds,
// or 0 if the error carries none.
func RetryAfterSeconds(err error) float64 {
	if rle, ok := err.(*RateLimitError); ok && rle.RetryAfter != nil {
		return *rle.RetryAfter
	}
	return 0
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ClientError is the base error type for all provider client errors.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM backend.
type ProviderError struct {
	ClientError
	Provider   string
	StatusCode int
	Transient  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, transient=%v)", e.Provider, e.Message, e.StatusCode, e.Transient)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ ClientError }
type NetworkError struct{ ClientError }
type StreamError struct{ ClientError }
type ConfigurationError struct{ ClientError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string) error {
	pe := ProviderError{
		ClientError: ClientError{Message: message},
		Provider:    provider,
		StatusCode:  statusCode,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{ClientError: ClientError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Transient = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504, 529:
		pe.Transient = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown status codes default to transient.
		pe.Transient = true
		return &pe
	}
}

// transientPatterns are error message fragments that indicate a transient
// failure when no typed error is available (e.g. errors from wrapped SDKs).
var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"i/o timeout",
	"no such host",
	"deadline exceeded",
	"rate limit",
	"overloaded",
	"temporarily unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"service unavailable",
}

// permanentPatterns are message fragments that indicate a permanent failure.
var permanentPatterns = []string{
	"unauthorized",
	"invalid api key",
	"invalid key",
	"forbidden",
	"bad request",
	"invalid request",
	"not found",
	"unsupported model",
	"unknown model",
}

// IsTransient reports whether the error is worth retrying. Authentication,
// malformed-request, and configuration failures are permanent; timeouts,
// rate limits, server errors, and network faults are transient. Unknown
// errors are classified by message pattern and default to transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var auth *AuthenticationError
	var denied *AccessDeniedError
	var notFound *NotFoundError
	var invalid *InvalidRequestError
	var ctxLen *ContextLengthError
	var config *ConfigurationError
	switch {
	case errors.As(err, &auth),
		errors.As(err, &denied),
		errors.As(err, &notFound),
		errors.As(err, &invalid),
		errors.As(err, &ctxLen),
		errors.As(err, &config):
		return false
	}

	var rate *RateLimitError
	var server *ServerError
	var timeout *RequestTimeoutError
	var network *NetworkError
	var stream *StreamError
	switch {
	case errors.As(err, &rate),
		errors.As(err, &server),
		errors.As(err, &timeout),
		errors.As(err, &network),
		errors.As(err, &stream):
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}

	// Cancellation is not retryable: the caller asked to stop.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return true
}

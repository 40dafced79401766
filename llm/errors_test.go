package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		wantType  string
		transient bool
	}{
		{400, "*llm.InvalidRequestError", false},
		{401, "*llm.AuthenticationError", false},
		{403, "*llm.AccessDeniedError", false},
		{404, "*llm.NotFoundError", false},
		{408, "*llm.RequestTimeoutError", true},
		{413, "*llm.ContextLengthError", false},
		{422, "*llm.InvalidRequestError", false},
		{429, "*llm.RateLimitError", true},
		{500, "*llm.ServerError", true},
		{503, "*llm.ServerError", true},
		{529, "*llm.ServerError", true},
		{418, "*llm.ProviderError", true},
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "boom", "testprov")
		if got := fmt.Sprintf("%T", err); got != tt.wantType {
			t.Errorf("status %d: type = %s, want %s", tt.status, got, tt.wantType)
		}
		if got := IsTransient(err); got != tt.transient {
			t.Errorf("status %d: IsTransient = %v, want %v", tt.status, got, tt.transient)
		}
	}
}

func TestIsTransientTypedErrors(t *testing.T) {
	transientErrs := []error{
		&RateLimitError{ProviderError: ProviderError{Transient: true}},
		&ServerError{ProviderError: ProviderError{Transient: true}},
		&RequestTimeoutError{},
		&NetworkError{},
		&StreamError{},
	}
	for _, err := range transientErrs {
		if !IsTransient(err) {
			t.Errorf("%T should be transient", err)
		}
	}

	permanentErrs := []error{
		&AuthenticationError{},
		&AccessDeniedError{},
		&NotFoundError{},
		&InvalidRequestError{},
		&ContextLengthError{},
		&ConfigurationError{},
	}
	for _, err := range permanentErrs {
		if IsTransient(err) {
			t.Errorf("%T should be permanent", err)
		}
	}
}

func TestIsTransientWrappedErrors(t *testing.T) {
	inner := &RateLimitError{ProviderError: ProviderError{
		ClientError: ClientError{Message: "slow down"},
		Transient:   true,
	}}
	wrapped := fmt.Errorf("call failed: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("wrapped rate limit should remain transient")
	}
}

func TestIsTransientCancellation(t *testing.T) {
	if IsTransient(context.Canceled) {
		t.Error("context.Canceled is not retryable")
	}
	if IsTransient(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded is not retryable")
	}
}

func TestIsTransientMessagePatterns(t *testing.T) {
	if !IsTransient(errors.New("dial tcp: connection refused")) {
		t.Error("connection refused should be transient")
	}
	if IsTransient(errors.New("response 401: unauthorized")) {
		t.Error("unauthorized should be permanent")
	}
	// Unknown errors default to transient.
	if !IsTransient(errors.New("something inscrutable happened")) {
		t.Error("unknown errors should default to transient")
	}
}

func TestIsTransientNil(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error is not transient")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &NetworkError{ClientError: ClientError{Message: "request failed", Cause: cause}}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

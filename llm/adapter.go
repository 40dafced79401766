package llm

import (
	"context"
	"os"
)

// SecretLookup resolves an authentication secret by key. Adapters call it
// once at construction; implementations must not hit the network. This keeps
// the client testable without real credentials and keeps environment access
// out of the adapters themselves.
type SecretLookup func(key string) (string, error)

// StaticSecrets returns a SecretLookup backed by a fixed map. Missing keys
// resolve to an empty string, matching backends that allow anonymous access
// (e.g. a local OpenAI-compatible server).
func StaticSecrets(secrets map[string]string) SecretLookup {
	return func(key string) (string, error) {
		return secrets[key], nil
	}
}

// EnvSecrets is a SecretLookup that reads secrets from environment
// variables, for hosts that configure credentials that way.
func EnvSecrets(key string) (string, error) {
	return os.Getenv(key), nil
}

// ProviderAdapter is the interface every backend must implement. Adapters
// translate between the canonical message/tool vocabulary and the backend's
// native wire shape in both directions.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// MaxTokensCeiling returns the backend's hard max_tokens ceiling.
	// Requested values above it are clamped down by the Client.
	MaxTokensCeiling() int

	// Create sends a blocking request and returns the full response.
	Create(ctx context.Context, req Request) (*Response, error)

	// CreateStream sends a request and returns a channel of responses:
	// zero or more IsDelta text fragments followed by exactly one final
	// aggregated response, after which the channel is closed. A mid-stream
	// failure surfaces through the returned error channel semantics of the
	// Client wrapper; adapters report it by closing without a final and
	// recording the error via the stream's error slot.
	CreateStream(ctx context.Context, req Request) (*ResponseStream, error)
}

// ResponseStream carries streamed responses plus a terminal error slot.
// Consumers range over Responses; once it is closed, Err() reports whether
// the stream ended cleanly (a final non-delta response was delivered) or
// failed mid-flight.
type ResponseStream struct {
	ch  chan Response
	err error
}

// NewResponseStream creates a stream with the given buffer size.
func NewResponseStream(buffer int) *ResponseStream {
	if buffer <= 0 {
		buffer = 64
	}
	return &ResponseStream{ch: make(chan Response, buffer)}
}

// Responses returns the receive side of the stream.
func (s *ResponseStream) Responses() <-chan Response {
	return s.ch
}

// Err returns the terminal error, if any. Valid only after Responses is
// closed.
func (s *ResponseStream) Err() error {
	return s.err
}

// Send delivers a response to the consumer. Adapters call it from their
// producing goroutine.
func (s *ResponseStream) Send(r Response) {
	s.ch <- r
}

// Fail records a terminal error and closes the stream.
func (s *ResponseStream) Fail(err error) {
	s.err = err
	close(s.ch)
}

// Finish closes the stream cleanly after the final response.
func (s *ResponseStream) Finish() {
	close(s.ch)
}

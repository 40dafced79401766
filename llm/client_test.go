package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// mockAdapter is a configurable in-memory ProviderAdapter.
type mockAdapter struct {
	name        string
	ceiling     int
	lastRequest *Request
	response    *Response
	err         error
	streamText  []string
	streamErr   error
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) MaxTokensCeiling() int {
	if m.ceiling == 0 {
		return 8192
	}
	return m.ceiling
}

func (m *mockAdapter) Create(ctx context.Context, req Request) (*Response, error) {
	m.lastRequest = &req
	if m.err != nil {
		return nil, m.err
	}
	if m.response != nil {
		return m.response, nil
	}
	return &Response{
		Blocks:     []ContentBlock{TextBlock("mock response")},
		StopReason: StopEndTurn,
		Provider:   m.name,
		Model:      req.Model,
	}, nil
}

func (m *mockAdapter) CreateStream(ctx context.Context, req Request) (*ResponseStream, error) {
	m.lastRequest = &req
	if m.err != nil {
		return nil, m.err
	}
	stream := NewResponseStream(16)
	go func() {
		var full strings.Builder
		for _, chunk := range m.streamText {
			full.WriteString(chunk)
			stream.Send(deltaResponse(m.name, req.Model, chunk))
		}
		if m.streamErr != nil {
			stream.Fail(m.streamErr)
			return
		}
		stream.Send(Response{
			Blocks:     []ContentBlock{TextBlock(full.String())},
			StopReason: StopEndTurn,
			Provider:   m.name,
			Model:      req.Model,
		})
		stream.Finish()
	}()
	return stream, nil
}

func TestClientRoutesToNamedProvider(t *testing.T) {
	a := &mockAdapter{name: "alpha"}
	b := &mockAdapter{name: "beta"}
	client := NewClient(
		WithProvider("alpha", a),
		WithProvider("beta", b),
		WithDefaultProvider("alpha"),
	)

	_, err := client.Create(context.Background(), Request{
		Provider: "beta",
		Model:    "m1",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if b.lastRequest == nil {
		t.Fatal("expected request routed to beta")
	}
	if a.lastRequest != nil {
		t.Fatal("alpha should not have been called")
	}
}

func TestClientDefaultsToSoleProvider(t *testing.T) {
	a := &mockAdapter{name: "alpha"}
	client := NewClient(WithProvider("alpha", a))

	resp, err := client.Create(context.Background(), Request{
		Model:    "m1",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if resp.Provider != "alpha" {
		t.Errorf("provider = %q, want alpha", resp.Provider)
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient(WithProvider("alpha", &mockAdapter{name: "alpha"}))

	_, err := client.Create(context.Background(), Request{
		Provider: "missing",
		Model:    "m1",
	})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientClampsMaxTokens(t *testing.T) {
	a := &mockAdapter{name: "alpha", ceiling: 4096}
	client := NewClient(WithProvider("alpha", a))

	_, err := client.Create(context.Background(), Request{
		Model:     "m1",
		Messages:  []Message{UserMessage("hi")},
		MaxTokens: 100000,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if a.lastRequest.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want clamped to 4096", a.lastRequest.MaxTokens)
	}
}

func TestClientAppliesDefaultMaxTokens(t *testing.T) {
	a := &mockAdapter{name: "alpha", ceiling: 100000}
	client := NewClient(WithProvider("alpha", a))

	_, err := client.Create(context.Background(), Request{
		Model:    "m1",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if a.lastRequest.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", a.lastRequest.MaxTokens, DefaultMaxTokens)
	}
}

func TestClientSanitizesEmptyObjectSchema(t *testing.T) {
	a := &mockAdapter{name: "alpha"}
	client := NewClient(WithProvider("alpha", a))

	_, err := client.Create(context.Background(), Request{
		Model:    "m1",
		Messages: []Message{UserMessage("hi")},
		Tools: []ToolDefinition{
			{Name: "noop", InputSchema: map[string]interface{}{"type": "object"}},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	schema := a.lastRequest.Tools[0].InputSchema
	if ap, ok := schema["additionalProperties"].(bool); !ok || ap {
		t.Errorf("additionalProperties = %v, want false", schema["additionalProperties"])
	}
	if _, ok := schema["properties"].(map[string]interface{}); !ok {
		t.Error("expected empty properties map to be injected")
	}
}

func TestClientSchemaSanitizationDoesNotMutateInput(t *testing.T) {
	original := map[string]interface{}{"type": "object"}
	a := &mockAdapter{name: "alpha"}
	client := NewClient(WithProvider("alpha", a))

	_, err := client.Create(context.Background(), Request{
		Model:    "m1",
		Messages: []Message{UserMessage("hi")},
		Tools:    []ToolDefinition{{Name: "noop", InputSchema: original}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, mutated := original["additionalProperties"]; mutated {
		t.Error("sanitization mutated the caller's schema map")
	}
}

func TestClientSchemaWithPropertiesUntouched(t *testing.T) {
	a := &mockAdapter{name: "alpha"}
	client := NewClient(WithProvider("alpha", a))

	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
	}
	_, err := client.Create(context.Background(), Request{
		Model:    "m1",
		Messages: []Message{UserMessage("hi")},
		Tools:    []ToolDefinition{{Name: "read", InputSchema: schema}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got := a.lastRequest.Tools[0].InputSchema
	if _, present := got["additionalProperties"]; present {
		t.Error("schema with properties should not gain additionalProperties")
	}
}

func TestCreateStreamDeltaReassembly(t *testing.T) {
	a := &mockAdapter{
		name:       "alpha",
		streamText: []string{"Hel", "lo ", "wor", "ld"},
	}
	client := NewClient(WithProvider("alpha", a))

	stream, err := client.CreateStream(context.Background(), Request{
		Model:    "m1",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("CreateStream failed: %v", err)
	}

	var deltas strings.Builder
	var final *Response
	for resp := range stream.Responses() {
		if resp.IsDelta {
			if final != nil {
				t.Fatal("delta received after final response")
			}
			deltas.WriteString(resp.Text())
			continue
		}
		if final != nil {
			t.Fatal("multiple final responses")
		}
		r := resp
		final = &r
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if final == nil {
		t.Fatal("no final response received")
	}
	if deltas.String() != final.Text() {
		t.Errorf("concatenated deltas %q != final text %q", deltas.String(), final.Text())
	}
	if final.StopReason != StopEndTurn {
		t.Errorf("StopReason = %q, want end_turn", final.StopReason)
	}
}

func TestCreateStreamMidStreamFailure(t *testing.T) {
	streamErr := &ServerError{ProviderError: ProviderError{
		ClientError: ClientError{Message: "upstream hiccup"},
		Provider:    "alpha",
		StatusCode:  500,
		Transient:   true,
	}}
	a := &mockAdapter{
		name:       "alpha",
		streamText: []string{"par", "tial"},
		streamErr:  streamErr,
	}
	client := NewClient(WithProvider("alpha", a))

	stream, err := client.CreateStream(context.Background(), Request{
		Model:    "m1",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("CreateStream failed: %v", err)
	}

	sawFinal := false
	for resp := range stream.Responses() {
		if !resp.IsDelta {
			sawFinal = true
		}
	}
	if sawFinal {
		t.Error("failed stream should not deliver a final response")
	}
	if stream.Err() == nil {
		t.Fatal("expected terminal stream error")
	}
	if !IsTransient(stream.Err()) {
		t.Error("server error should classify as transient")
	}
}

func TestRegisterProviderSetsDefault(t *testing.T) {
	client := NewClient()
	client.RegisterProvider("alpha", &mockAdapter{name: "alpha"})

	resp, err := client.Create(context.Background(), Request{
		Model:    "m1",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if resp == nil {
		t.Fatal("nil response")
	}
}

func TestToolUseRoundTripThroughMock(t *testing.T) {
	input := json.RawMessage(`{"path":"main.go"}`)
	a := &mockAdapter{
		name: "alpha",
		response: &Response{
			Blocks: []ContentBlock{
				TextBlock("reading file"),
				ToolUseBlock("toolu_1", "read_file", input),
			},
			StopReason: StopToolUse,
			Provider:   "alpha",
		},
	}
	client := NewClient(WithProvider("alpha", a))

	resp, err := client.Create(context.Background(), Request{
		Model:    "m1",
		Messages: []Message{UserMessage("read main.go")},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	uses := resp.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("got %d tool uses, want 1", len(uses))
	}
	if uses[0].ID != "toolu_1" || uses[0].Name != "read_file" {
		t.Errorf("unexpected tool use: %+v", uses[0])
	}
	if string(uses[0].Input) != string(input) {
		t.Errorf("Input = %s, want %s", uses[0].Input, input)
	}
}

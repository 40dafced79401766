package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// AnthropicAdapter implements ProviderAdapter on the native Anthropic
// Messages API via the official SDK.
type AnthropicAdapter struct {
	client anthropic.Client
}

// AnthropicConfig configures an AnthropicAdapter.
type AnthropicConfig struct {
	// SecretKey is the lookup key for the API key. Defaults to
	// ANTHROPIC_API_KEY.
	SecretKey string
	// BaseURL overrides the API base URL (proxies, test servers).
	BaseURL string
}

// NewAnthropicAdapter creates the adapter, resolving the API key once
// through the injected lookup.
func NewAnthropicAdapter(cfg AnthropicConfig, secrets SecretLookup) (*AnthropicAdapter, error) {
	secretKey := cfg.SecretKey
	if secretKey == "" {
		secretKey = "ANTHROPIC_API_KEY"
	}
	apiKey, err := secrets(secretKey)
	if err != nil {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("anthropic: resolving secret %s", secretKey),
			Cause:   err,
		}}
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...)}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) MaxTokensCeiling() int { return 64000 }

func (a *AnthropicAdapter) buildParams(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     toAnthropicTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// Create sends a blocking Messages request.
func (a *AnthropicAdapter) Create(ctx context.Context, req Request) (*Response, error) {
	resp, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, translateAnthropicError(err)
	}
	return fromAnthropicMessage(resp), nil
}

// CreateStream sends a streaming Messages request. Text deltas are forwarded
// as they arrive; the final response is accumulated from the full event
// stream so tool_use blocks and usage survive intact.
func (a *AnthropicAdapter) CreateStream(ctx context.Context, req Request) (*ResponseStream, error) {
	sse := a.client.Messages.NewStreaming(ctx, a.buildParams(req))
	stream := NewResponseStream(64)

	go func() {
		message := anthropic.Message{}
		model := req.Model
		for sse.Next() {
			event := sse.Current()
			if err := message.Accumulate(event); err != nil {
				stream.Fail(&StreamError{ClientError: ClientError{
					Message: "anthropic: accumulating stream event",
					Cause:   err,
				}})
				return
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
					stream.Send(deltaResponse("anthropic", model, text.Text))
				}
			}
		}
		if err := sse.Err(); err != nil {
			stream.Fail(translateAnthropicError(err))
			return
		}
		stream.Send(*fromAnthropicMessage(&message))
		stream.Finish()
	}()

	return stream, nil
}

func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleUser, RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range msg.Content {
				switch b.Kind {
				case BlockText:
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				case BlockImage:
					if b.Image != nil {
						b64 := base64.StdEncoding.EncodeToString(b.Image.Data)
						blocks = append(blocks, anthropic.NewImageBlockBase64(b.Image.MediaType, b64))
					}
				case BlockToolResult:
					if b.ToolResult != nil {
						blocks = append(blocks, anthropic.NewToolResultBlock(
							b.ToolResult.ToolUseID, b.ToolResult.Content, b.ToolResult.IsError))
					}
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}

		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range msg.Content {
				switch b.Kind {
				case BlockText:
					if b.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(b.Text))
					}
				case BlockToolUse:
					if b.ToolUse != nil {
						var input map[string]interface{}
						_ = json.Unmarshal(b.ToolUse.Input, &input)
						if input == nil {
							input = map[string]interface{}{}
						}
						blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUse.ID, input, b.ToolUse.Name))
					}
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	return out
}

func toAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, td := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: td.InputSchema["properties"],
		}
		if req, ok := td.InputSchema["required"].([]interface{}); ok {
			required := make([]string, 0, len(req))
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
			schema.Required = required
		}
		t := anthropic.ToolUnionParamOfTool(schema, td.Name)
		if td.Description != "" {
			t.OfTool.Description = param.NewOpt(td.Description)
		}
		out = append(out, t)
	}
	return out
}

func fromAnthropicMessage(msg *anthropic.Message) *Response {
	resp := &Response{
		StopReason: fromAnthropicStopReason(string(msg.StopReason)),
		Model:      string(msg.Model),
		Provider:   "anthropic",
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Blocks = append(resp.Blocks, TextBlock(block.Text))
		case "tool_use":
			tu := block.AsToolUse()
			resp.Blocks = append(resp.Blocks, ToolUseBlock(tu.ID, tu.Name, json.RawMessage(tu.Input)))
		}
	}
	return resp
}

func fromAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopOther
	}
}

// translateAnthropicError maps SDK errors onto the typed error hierarchy.
func translateAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), "anthropic")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &NetworkError{ClientError: ClientError{
		Message: "anthropic: request failed",
		Cause:   err,
	}}
}

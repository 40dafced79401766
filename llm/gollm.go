package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// It is the catch-all backend for providers without a native adapter;
// gollm flattens conversations to prompt text, so tool calls round-trip
// through JSON embedded in the response text.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
	ceiling  int
}

// GollmConfig configures a GollmAdapter.
type GollmConfig struct {
	// Provider is the gollm provider name ("openai", "anthropic",
	// "groq", "ollama", ...).
	Provider string
	// Model is the default model. Falls back to the registry default.
	Model string
	// SecretKey is the lookup key for the API key. Empty means
	// <PROVIDER>_API_KEY.
	SecretKey string
	// MaxTokensCeiling is the backend's hard output ceiling.
	MaxTokensCeiling int
	// ExtraOptions passes additional gollm configuration through.
	ExtraOptions []gollm.ConfigOption
}

// NewGollmAdapter creates a GollmAdapter for the given provider. The API key
// is resolved once through the injected lookup; retries are disabled because
// the caller owns retry policy.
func NewGollmAdapter(cfg GollmConfig, secrets SecretLookup) (*GollmAdapter, error) {
	if cfg.Provider == "" {
		return nil, &ConfigurationError{ClientError: ClientError{Message: "gollm: provider is required"}}
	}

	secretKey := cfg.SecretKey
	if secretKey == "" {
		secretKey = strings.ToUpper(cfg.Provider) + "_API_KEY"
	}
	apiKey, err := secrets(secretKey)
	if err != nil {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("%s: resolving secret %s", cfg.Provider, secretKey),
			Cause:   err,
		}}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel(cfg.Provider)
	}
	ceiling := cfg.MaxTokensCeiling
	if ceiling == 0 {
		ceiling = MaxOutputTokens(cfg.Provider, model)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(cfg.Provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(ceiling),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.ExtraOptions...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("gollm: creating LLM for provider %s", cfg.Provider),
			Cause:   err,
		}}
	}

	return &GollmAdapter{
		provider: cfg.Provider,
		llm:      llm,
		model:    model,
		ceiling:  ceiling,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		ceiling:  DefaultMaxTokens,
	}
}

func (a *GollmAdapter) Name() string          { return a.provider }
func (a *GollmAdapter) MaxTokensCeiling() int { return a.ceiling }

// Create sends a blocking request.
func (a *GollmAdapter) Create(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, text), nil
}

// CreateStream sends a streaming request. Backends without streaming support
// fall back to a blocking call emitted as a single delta plus the aggregate.
func (a *GollmAdapter) CreateStream(ctx context.Context, req Request) (*ResponseStream, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	stream := NewResponseStream(64)

	if !a.llm.SupportsStreaming() {
		go func() {
			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				stream.Fail(a.translateError(err))
				return
			}
			stream.Send(deltaResponse(a.provider, a.modelFor(req), text))
			stream.Send(*a.buildResponse(req, text))
			stream.Finish()
		}()
		return stream, nil
	}

	tokens, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer tokens.Close()
		var fullText strings.Builder
		for {
			token, err := tokens.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				stream.Fail(&StreamError{ClientError: ClientError{
					Message: fmt.Sprintf("%s: reading stream", a.provider),
					Cause:   a.translateError(err),
				}})
				return
			}
			if token == nil || token.Text == "" {
				continue
			}
			fullText.WriteString(token.Text)
			stream.Send(deltaResponse(a.provider, a.modelFor(req), token.Text))
		}
		stream.Send(*a.buildResponse(req, fullText.String()))
		stream.Finish()
	}()

	return stream, nil
}

func (a *GollmAdapter) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.model
}

// translateRequest flattens the canonical conversation into a gollm Prompt.
// gollm's prompt model is single-shot, so prior turns become labeled context.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var parts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			parts = append(parts, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
			for _, tu := range msg.ToolUses() {
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s(%s)", tu.ID, tu.Name, string(tu.Input)))
			}
		case RoleTool:
			for _, tr := range msg.ToolResults() {
				prefix := "[Tool Result]"
				if tr.IsError {
					prefix = "[Tool Error]"
				}
				parts = append(parts, prefix+": "+tr.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if req.System != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(req.System, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, td := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        td.Name,
					Description: td.Description,
					Parameters:  td.InputSchema,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.MaxTokens > 0 {
		a.llm.SetOption("max_tokens", req.MaxTokens)
	}
}

// buildResponse constructs a canonical Response from generated text,
// recovering tool calls gollm embeds as JSON.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	toolUses := a.parseToolCalls(text)

	resp := &Response{
		Model:    a.modelFor(req),
		Provider: a.provider,
		Usage: Usage{
			// gollm does not expose provider usage; estimate at chars/4.
			InputTokens:  estimatePromptTokens(req),
			OutputTokens: len(text) / 4,
		},
	}

	cleaned := a.stripToolCallJSON(text, toolUses)
	if cleaned != "" {
		resp.Blocks = append(resp.Blocks, TextBlock(cleaned))
	}
	for _, tu := range toolUses {
		resp.Blocks = append(resp.Blocks, ContentBlock{Kind: BlockToolUse, ToolUse: &tu})
	}
	if len(resp.Blocks) == 0 {
		resp.Blocks = append(resp.Blocks, TextBlock(text))
	}

	if len(toolUses) > 0 {
		resp.StopReason = StopToolUse
	} else {
		resp.StopReason = StopEndTurn
	}
	return resp
}

// parseToolCalls extracts tool calls gollm returns as JSON in the text.
func (a *GollmAdapter) parseToolCalls(text string) []ToolUseData {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return nil
	}

	var calls []ToolUseData
	for _, rc := range rawCalls {
		input := rc.Arguments
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		calls = append(calls, ToolUseData{
			ID:    "call_" + uuid.New().String()[:8],
			Name:  rc.Name,
			Input: input,
		})
	}
	return calls
}

func (a *GollmAdapter) stripToolCallJSON(text string, calls []ToolUseData) string {
	if len(calls) == 0 {
		return text
	}
	if idx := strings.Index(text, `[{"name"`); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// translateError classifies gollm errors into the typed hierarchy. gollm
// surfaces provider failures as strings, so this works from message content.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return ErrorFromStatusCode(401, msg, a.provider)
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return ErrorFromStatusCode(403, msg, a.provider)
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return ErrorFromStatusCode(404, msg, a.provider)
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return ErrorFromStatusCode(429, msg, a.provider)
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return ErrorFromStatusCode(413, msg, a.provider)
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		return ErrorFromStatusCode(500, msg, a.provider)
	case strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{ClientError: ClientError{Message: msg, Cause: err}}
	default:
		return &ProviderError{
			ClientError: ClientError{Message: msg, Cause: err},
			Provider:    a.provider,
			Transient:   true,
		}
	}
}

func estimatePromptTokens(req Request) int {
	total := len(req.System) / 4
	for _, msg := range req.Messages {
		for _, b := range msg.Content {
			switch b.Kind {
			case BlockText:
				total += len(b.Text) / 4
			case BlockToolResult:
				if b.ToolResult != nil {
					total += len(b.ToolResult.Content) / 4
				}
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// OpenAIAdapter implements ProviderAdapter for OpenAI-compatible
// chat-completions backends. One adapter type covers OpenAI itself plus any
// compatible endpoint (Groq, DeepSeek, Ollama, vLLM, ...) via BaseURL.
type OpenAIAdapter struct {
	provider string
	apiKey   string
	baseURL  string
	ceiling  int
	client   *http.Client
}

// OpenAIConfig configures an OpenAIAdapter.
type OpenAIConfig struct {
	// Provider is the identifier this adapter registers under ("openai",
	// "groq", ...). Defaults to "openai".
	Provider string
	// BaseURL overrides the API base URL for compatible endpoints.
	// Defaults to https://api.openai.com/v1.
	BaseURL string
	// SecretKey is the lookup key for the API key. Defaults to
	// OPENAI_API_KEY.
	SecretKey string
	// MaxTokensCeiling is the backend's hard max_tokens ceiling.
	MaxTokensCeiling int
	// HTTPClient overrides the default client (mainly for tests).
	HTTPClient *http.Client
}

// NewOpenAIAdapter creates an adapter for an OpenAI-compatible backend.
// The API key is resolved once, here, through the injected lookup.
func NewOpenAIAdapter(cfg OpenAIConfig, secrets SecretLookup) (*OpenAIAdapter, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	secretKey := cfg.SecretKey
	if secretKey == "" {
		secretKey = "OPENAI_API_KEY"
	}
	apiKey, err := secrets(secretKey)
	if err != nil {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("%s: resolving secret %s", provider, secretKey),
			Cause:   err,
		}}
	}

	ceiling := cfg.MaxTokensCeiling
	if ceiling == 0 {
		ceiling = 16384
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 300 * time.Second}
	}

	return &OpenAIAdapter{
		provider: provider,
		apiKey:   apiKey,
		baseURL:  baseURL,
		ceiling:  ceiling,
		client:   httpClient,
	}, nil
}

func (a *OpenAIAdapter) Name() string          { return a.provider }
func (a *OpenAIAdapter) MaxTokensCeiling() int { return a.ceiling }

// Wire types for the chat-completions protocol.

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    interface{}      `json:"content,omitempty"` // string or []openaiContentPart
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiContentPart struct {
	Type     string          `json:"type"` // "text" or "image_url"
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openaiCallFunc `json:"function"`
}

type openaiCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

type openaiTool struct {
	Type     string         `json:"type"` // "function"
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openaiRequest struct {
	Model               string               `json:"model"`
	Messages            []openaiMessage      `json:"messages"`
	Tools               []openaiTool         `json:"tools,omitempty"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	StreamOptions       *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// toOpenAIMessages translates the canonical message list into the wire
// shape. Tool results become separate role="tool" messages addressed by
// tool_call_id; image blocks become data-URI image_url parts.
func (a *OpenAIAdapter) toOpenAIMessages(req Request) []openaiMessage {
	var out []openaiMessage
	if req.System != "" {
		out = append(out, openaiMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			var parts []openaiContentPart
			hasImage := false
			for _, b := range msg.Content {
				switch b.Kind {
				case BlockText:
					parts = append(parts, openaiContentPart{Type: "text", Text: b.Text})
				case BlockImage:
					if b.Image != nil {
						hasImage = true
						uri := fmt.Sprintf("data:%s;base64,%s", b.Image.MediaType,
							base64.StdEncoding.EncodeToString(b.Image.Data))
						parts = append(parts, openaiContentPart{Type: "image_url", ImageURL: &openaiImageURL{URL: uri}})
					}
				}
			}
			if hasImage {
				out = append(out, openaiMessage{Role: "user", Content: parts})
			} else {
				out = append(out, openaiMessage{Role: "user", Content: msg.TextContent()})
			}

		case RoleAssistant:
			m := openaiMessage{Role: "assistant"}
			if text := msg.TextContent(); text != "" {
				m.Content = text
			}
			for _, tu := range msg.ToolUses() {
				m.ToolCalls = append(m.ToolCalls, openaiToolCall{
					ID:   tu.ID,
					Type: "function",
					Function: openaiCallFunc{
						Name:      tu.Name,
						Arguments: string(tu.Input),
					},
				})
			}
			out = append(out, m)

		case RoleTool:
			for _, tr := range msg.ToolResults() {
				out = append(out, openaiMessage{
					Role:       "tool",
					Content:    tr.Content,
					ToolCallID: tr.ToolUseID,
				})
			}
		}
	}
	return out
}

func (a *OpenAIAdapter) toOpenAITools(tools []ToolDefinition) []openaiTool {
	var out []openaiTool
	for _, td := range tools {
		out = append(out, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.InputSchema,
			},
		})
	}
	return out
}

// fromFinishReason maps a finish_reason onto the canonical StopReason.
func fromFinishReason(reason string) StopReason {
	switch reason {
	case "tool_calls":
		return StopToolUse
	case "length":
		return StopMaxTokens
	case "stop":
		return StopEndTurn
	case "":
		return StopEndTurn
	default:
		return StopOther
	}
}

// Create sends a blocking chat-completions request.
func (a *OpenAIAdapter) Create(ctx context.Context, req Request) (*Response, error) {
	body := openaiRequest{
		Model:               req.Model,
		Messages:            a.toOpenAIMessages(req),
		Tools:               a.toOpenAITools(req.Tools),
		MaxCompletionTokens: req.MaxTokens,
	}

	raw, err := a.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	choice := gjson.GetBytes(raw, "choices.0")
	if !choice.Exists() {
		return nil, &ProviderError{
			ClientError: ClientError{Message: "no choices in response"},
			Provider:    a.provider,
		}
	}

	resp := &Response{
		StopReason: fromFinishReason(choice.Get("finish_reason").String()),
		Model:      gjson.GetBytes(raw, "model").String(),
		Provider:   a.provider,
		Usage: Usage{
			InputTokens:  int(gjson.GetBytes(raw, "usage.prompt_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(raw, "usage.completion_tokens").Int()),
		},
	}

	if text := choice.Get("message.content").String(); text != "" {
		resp.Blocks = append(resp.Blocks, TextBlock(text))
	}
	choice.Get("message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		resp.Blocks = append(resp.Blocks, ToolUseBlock(
			tc.Get("id").String(),
			tc.Get("function.name").String(),
			json.RawMessage(tc.Get("function.arguments").String()),
		))
		return true
	})

	return resp, nil
}

// CreateStream sends a streaming chat-completions request and translates the
// SSE chunk stream into delta responses plus one final aggregate.
func (a *OpenAIAdapter) CreateStream(ctx context.Context, req Request) (*ResponseStream, error) {
	body := openaiRequest{
		Model:               req.Model,
		Messages:            a.toOpenAIMessages(req),
		Tools:               a.toOpenAITools(req.Tools),
		MaxCompletionTokens: req.MaxTokens,
		Stream:              true,
		StreamOptions:       &openaiStreamOptions{IncludeUsage: true},
	}

	httpResp, err := a.send(ctx, body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, a.errorFromBody(httpResp.StatusCode, respBody)
	}

	stream := NewResponseStream(64)
	go a.consumeSSE(httpResp.Body, req, stream)
	return stream, nil
}

// toolCallAccumulator collects streamed tool-call fragments by index.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// consumeSSE reads the SSE body, forwarding text deltas as they arrive and
// accumulating everything needed for the final aggregated response.
func (a *OpenAIAdapter) consumeSSE(body io.ReadCloser, req Request, stream *ResponseStream) {
	defer body.Close()

	var fullText strings.Builder
	toolCalls := make(map[int]*toolCallAccumulator)
	var toolOrder []int
	stopReason := StopEndTurn
	model := req.Model
	var usage Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		chunk := gjson.Parse(data)
		if m := chunk.Get("model").String(); m != "" {
			model = m
		}
		if u := chunk.Get("usage"); u.Exists() && u.Type != gjson.Null {
			usage.InputTokens = int(u.Get("prompt_tokens").Int())
			usage.OutputTokens = int(u.Get("completion_tokens").Int())
		}

		choice := chunk.Get("choices.0")
		if !choice.Exists() {
			continue
		}
		if fr := choice.Get("finish_reason").String(); fr != "" {
			stopReason = fromFinishReason(fr)
		}

		delta := choice.Get("delta")
		if text := delta.Get("content").String(); text != "" {
			fullText.WriteString(text)
			stream.Send(deltaResponse(a.provider, model, text))
		}
		delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			idx := int(tc.Get("index").Int())
			acc, ok := toolCalls[idx]
			if !ok {
				acc = &toolCallAccumulator{}
				toolCalls[idx] = acc
				toolOrder = append(toolOrder, idx)
			}
			if id := tc.Get("id").String(); id != "" {
				acc.id = id
			}
			if name := tc.Get("function.name").String(); name != "" {
				acc.name = name
			}
			acc.args.WriteString(tc.Get("function.arguments").String())
			return true
		})
	}
	if err := scanner.Err(); err != nil {
		stream.Fail(&StreamError{ClientError: ClientError{
			Message: fmt.Sprintf("%s: reading stream", a.provider),
			Cause:   err,
		}})
		return
	}

	final := Response{
		StopReason: stopReason,
		Model:      model,
		Provider:   a.provider,
		Usage:      usage,
	}
	if text := fullText.String(); text != "" {
		final.Blocks = append(final.Blocks, TextBlock(text))
	}
	for _, idx := range toolOrder {
		acc := toolCalls[idx]
		args := acc.args.String()
		if args == "" {
			args = "{}"
		}
		final.Blocks = append(final.Blocks, ToolUseBlock(acc.id, acc.name, json.RawMessage(args)))
	}
	stream.Send(final)
	stream.Finish()
}

// send performs the HTTP request without reading the body.
func (a *OpenAIAdapter) send(ctx context.Context, body openaiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, &ClientError{Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &ClientError{Message: "create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{ClientError: ClientError{
			Message: fmt.Sprintf("%s: request failed", a.provider),
			Cause:   err,
		}}
	}
	return httpResp, nil
}

// doRequest performs a blocking request and returns the raw response body.
func (a *OpenAIAdapter) doRequest(ctx context.Context, body openaiRequest) ([]byte, error) {
	httpResp, err := a.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &NetworkError{ClientError: ClientError{
			Message: fmt.Sprintf("%s: read response", a.provider),
			Cause:   err,
		}}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.errorFromBody(httpResp.StatusCode, respBody)
	}

	if errMsg := gjson.GetBytes(respBody, "error.message"); errMsg.Exists() {
		return nil, &ProviderError{
			ClientError: ClientError{Message: errMsg.String()},
			Provider:    a.provider,
		}
	}

	return respBody, nil
}

// errorFromBody builds a typed error from a non-200 response.
func (a *OpenAIAdapter) errorFromBody(statusCode int, body []byte) error {
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return ErrorFromStatusCode(statusCode, message, a.provider)
}

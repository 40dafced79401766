package llm

import (
	"context"
	"fmt"
	"sync"
)

// DefaultMaxTokens is used when a request does not specify max_tokens.
const DefaultMaxTokens = 8192

// Client presents one interface over heterogeneous LLM backends. It holds
// registered provider adapters, routes requests by provider identifier,
// clamps max_tokens to the adapter's ceiling, and sanitizes tool schemas
// before dispatch.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// resolveProvider determines which adapter handles a request.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// prepare normalizes the request for an adapter: fills the provider name,
// clamps max_tokens to the adapter's ceiling (the caller's value is a
// ceiling, not a guarantee), and sanitizes tool schemas.
func (c *Client) prepare(req Request, adapter ProviderAdapter) Request {
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if ceiling := adapter.MaxTokensCeiling(); ceiling > 0 && req.MaxTokens > ceiling {
		req.MaxTokens = ceiling
	}
	if len(req.Tools) > 0 {
		tools := make([]ToolDefinition, len(req.Tools))
		for i, t := range req.Tools {
			t.InputSchema = sanitizeSchema(t.InputSchema)
			tools[i] = t
		}
		req.Tools = tools
	}
	return req
}

// Create sends a blocking request to the resolved provider.
func (c *Client) Create(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	return adapter.Create(ctx, c.prepare(req, adapter))
}

// CreateStream sends a streaming request to the resolved provider. The
// returned stream yields IsDelta text fragments (each carrying only newly
// produced text, in order) followed by exactly one final aggregated
// response.
func (c *Client) CreateStream(ctx context.Context, req Request) (*ResponseStream, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	return adapter.CreateStream(ctx, c.prepare(req, adapter))
}

// sanitizeSchema normalizes a tool input schema. An object schema with zero
// properties gets additionalProperties: false injected so backends don't
// reject an under-specified schema.
func sanitizeSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{
			"type":                 "object",
			"properties":           map[string]interface{}{},
			"additionalProperties": false,
		}
	}

	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = v
	}

	if t, _ := out["type"].(string); t == "object" {
		props, _ := out["properties"].(map[string]interface{})
		if len(props) == 0 {
			if props == nil {
				out["properties"] = map[string]interface{}{}
			}
			if _, present := out["additionalProperties"]; !present {
				out["additionalProperties"] = false
			}
		}
	}
	return out
}

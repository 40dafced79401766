package llm

// ModelInfo describes a known model in the registry.
type ModelInfo struct {
	Provider       string `json:"provider"`
	ID             string `json:"id"`
	ContextWindow  int    `json:"context_window"`
	MaxOutput      int    `json:"max_output,omitempty"`
	SupportsTools  bool   `json:"supports_tools"`
	SupportsVision bool   `json:"supports_vision"`
}

// Fail-open defaults for models the registry does not know about. New models
// appear faster than this table can be updated, so lookups return sane
// optimistic values instead of failing.
const (
	defaultContextWindow = 200000
	defaultMaxOutput     = 8192
)

// Models is the built-in model registry, keyed by (provider, model).
var Models = []ModelInfo{
	// Anthropic
	{Provider: "anthropic", ID: "claude-opus-4-6", ContextWindow: 200000, MaxOutput: 32768, SupportsTools: true, SupportsVision: true},
	{Provider: "anthropic", ID: "claude-sonnet-4-5", ContextWindow: 200000, MaxOutput: 16384, SupportsTools: true, SupportsVision: true},
	{Provider: "anthropic", ID: "claude-haiku-4-5", ContextWindow: 200000, MaxOutput: 16384, SupportsTools: true, SupportsVision: true},

	// OpenAI
	{Provider: "openai", ID: "gpt-5.2", ContextWindow: 1047576, MaxOutput: 32768, SupportsTools: true, SupportsVision: true},
	{Provider: "openai", ID: "gpt-5.2-mini", ContextWindow: 1047576, MaxOutput: 16384, SupportsTools: true, SupportsVision: true},
	{Provider: "openai", ID: "gpt-4o", ContextWindow: 128000, MaxOutput: 16384, SupportsTools: true, SupportsVision: true},
	{Provider: "openai", ID: "gpt-4o-mini", ContextWindow: 128000, MaxOutput: 16384, SupportsTools: true, SupportsVision: true},

	// Common OpenAI-compatible backends.
	{Provider: "groq", ID: "llama-3.3-70b-versatile", ContextWindow: 131072, MaxOutput: 32768, SupportsTools: true, SupportsVision: false},
	{Provider: "deepseek", ID: "deepseek-chat", ContextWindow: 65536, MaxOutput: 8192, SupportsTools: true, SupportsVision: false},
	{Provider: "ollama", ID: "llama3.1", ContextWindow: 131072, MaxOutput: 8192, SupportsTools: true, SupportsVision: false},
}

// defaultModels maps a provider to its default model.
var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-5.2",
	"groq":      "llama-3.3-70b-versatile",
	"deepseek":  "deepseek-chat",
	"ollama":    "llama3.1",
}

// GetModelInfo returns the registry entry for (provider, model), or nil if
// unknown.
func GetModelInfo(provider, model string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider && Models[i].ID == model {
			return &Models[i]
		}
	}
	return nil
}

// ContextLimit returns the context window for (provider, model), falling
// back to an optimistic default for unrecognized models.
func ContextLimit(provider, model string) int {
	if info := GetModelInfo(provider, model); info != nil {
		return info.ContextWindow
	}
	return defaultContextWindow
}

// SupportsVision reports whether (provider, model) accepts image input.
// Unrecognized models are assumed vision-capable.
func SupportsVision(provider, model string) bool {
	if info := GetModelInfo(provider, model); info != nil {
		return info.SupportsVision
	}
	return true
}

// SupportsTools reports whether (provider, model) supports tool calling.
// Unrecognized models are assumed tool-capable.
func SupportsTools(provider, model string) bool {
	if info := GetModelInfo(provider, model); info != nil {
		return info.SupportsTools
	}
	return true
}

// MaxOutputTokens returns the output ceiling for (provider, model), with a
// conservative default for unrecognized models.
func MaxOutputTokens(provider, model string) int {
	if info := GetModelInfo(provider, model); info != nil && info.MaxOutput > 0 {
		return info.MaxOutput
	}
	return defaultMaxOutput
}

// DefaultModel returns the default model for a provider, or empty if the
// provider has no registered default.
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		out := make([]ModelInfo, len(Models))
		copy(out, Models)
		return out
	}
	var out []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

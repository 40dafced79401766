package agent

import (
	"encoding/json"

	"github.com/skillfoundry/skillserver/llm"
)

// Step is one visible step of an agent run: either an assistant text step or
// a tool invocation with its result. Steps are append-only; callers get the
// final slice in the Result.
type Step struct {
	Role       string          `json:"role"` // "assistant" or "tool"
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolResult string          `json:"tool_result,omitempty"`
}

// CallRecord traces one provider call made during a run, including the
// compression summary call when one happens.
type CallRecord struct {
	Turn       int        `json:"turn"`
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	Usage      llm.Usage  `json:"usage"`
	DurationMs int64      `json:"duration_ms"`
	Streamed   bool       `json:"streamed"`
	Retried    bool       `json:"retried"`
	Purpose    string     `json:"purpose,omitempty"` // "turn" or "compression"
}

// Result is the terminal outcome of one run.
type Result struct {
	Success       bool          `json:"success"`
	Answer        string        `json:"answer,omitempty"`
	TotalTurns    int           `json:"total_turns"`
	Usage         llm.Usage     `json:"usage"`
	Steps         []Step        `json:"steps,omitempty"`
	Calls         []CallRecord  `json:"calls,omitempty"`
	Err           string        `json:"error,omitempty"`
	FinalMessages []llm.Message `json:"final_messages"`
	Cancelled     bool          `json:"cancelled,omitempty"`
	Compressed    bool          `json:"compressed,omitempty"`
}

// Request describes one agent run.
type Request struct {
	// RunID identifies the run for streaming and steering. Empty means the
	// loop generates one.
	RunID string
	// Prompt is the user's message for this run.
	Prompt string
	// System is extra system-prompt content appended after the loop's own.
	System string
	// Provider and Model select the backend; empty values fall back to the
	// client's default provider and the registry default model.
	Provider string
	Model    string
	// History is the prior conversation, owned by the caller and passed by
	// value. The loop returns the replacement sequence in the Result.
	History []llm.Message
	// Images attach to the prompt message.
	Images []llm.ImageData
	// MaxTurns overrides the configured turn budget when > 0.
	MaxTurns int
}

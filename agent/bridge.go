package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/skillfoundry/skillserver/llm"
)

// ToolBridge is what the loop calls to execute tools. Expected failures
// (bad arguments, tool-internal errors) must come back as a result string
// the model can read, never as an error; a returned error means the bridge
// itself is unreachable, which fails the run.
type ToolBridge interface {
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error)
	Definitions() []llm.ToolDefinition
}

// ToolFunc executes one tool call.
type ToolFunc func(ctx context.Context, arguments json.RawMessage) (string, error)

// registeredTool pairs a definition with its executor.
type registeredTool struct {
	definition llm.ToolDefinition
	fn         ToolFunc
}

// Toolset is an in-process ToolBridge backed by registered functions.
type Toolset struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewToolset creates an empty Toolset.
func NewToolset() *Toolset {
	return &Toolset{tools: make(map[string]registeredTool)}
}

// Register adds or replaces a tool.
func (t *Toolset) Register(def llm.ToolDefinition, fn ToolFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools[def.Name] = registeredTool{definition: def, fn: fn}
}

// Unregister removes a tool.
func (t *Toolset) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tools, name)
}

// Definitions returns all registered definitions in name order.
func (t *Toolset) Definitions() []llm.ToolDefinition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(t.tools))
	for _, tool := range t.tools {
		defs = append(defs, tool.definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// CallTool executes the named tool. An unknown tool name is an expected
// failure: the model hallucinated a tool, so it gets an error string back
// rather than failing the run.
func (t *Toolset) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	t.mu.RLock()
	tool, ok := t.tools[name]
	t.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Unknown tool: %s", name), nil
	}
	out, err := tool.fn(ctx, arguments)
	if err != nil {
		// Tool-internal failures are surfaced to the model, not the run.
		return fmt.Sprintf("Tool error (%s): %v", name, err), nil
	}
	return out, nil
}

// Package agent implements the turn-by-turn agent execution loop.
//
// A Loop takes a Request (prompt, history, budget), calls the provider
// client turn by turn, interprets tool_use responses, dispatches them
// sequentially through a ToolBridge, and appends the paired tool_result
// blocks before the next call. It embeds the streaming/retry policy
// (transient streaming failures fall back once to a blocking call), context
// compression when the history outgrows the model's window, steering
// injection at turn boundaries, and repeated-tool-call loop detection.
//
// Run folds every failure mode into its Result; nothing escapes the loop
// boundary. Start wraps Run for background execution with a registered
// event stream.
package agent

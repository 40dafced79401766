package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillfoundry/skillserver/llm"
	"github.com/skillfoundry/skillserver/stream"
)

// Loop drives agent runs: it repeatedly calls the provider client,
// dispatches tool calls through the bridge, and decides when to stop.
type Loop struct {
	client *llm.Client
	bridge ToolBridge
	config LoopConfig
	logger *zap.Logger
}

// New creates a Loop. A nil logger disables logging.
func New(client *llm.Client, bridge ToolBridge, config LoopConfig, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		client: client,
		bridge: bridge,
		config: config,
		logger: logger,
	}
}

// Start launches a run in the background. The returned stream is registered
// in reg for the duration of the run so steering can reach it, and is closed
// after the terminal event. The consumer ranges over the stream's events
// until it closes.
func (l *Loop) Start(ctx context.Context, req Request, reg *stream.Registry) *stream.Stream {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	st := stream.New(req.RunID, 256)
	if reg != nil {
		reg.Add(st)
	}
	go func() {
		defer func() {
			if reg != nil {
				reg.Remove(st.RunID())
			}
			st.Close()
		}()
		l.Run(ctx, req, st)
	}()
	return st
}

// Run executes one agent run to completion and returns its Result. It never
// panics and never returns an error: every failure mode is folded into the
// Result and, when a stream is attached, a terminal error event. The stream
// is not closed here; Start (or the caller) owns its lifecycle.
func (l *Loop) Run(ctx context.Context, req Request, st *stream.Stream) (result Result) {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = l.config.MaxTurns
	}
	provider := req.Provider
	model := req.Model
	if model == "" {
		model = llm.DefaultModel(provider)
	}
	logger := l.logger.With(zap.String("run_id", req.RunID))

	messages := append([]llm.Message(nil), req.History...)
	messages = append(messages, l.promptMessage(req, provider, model, logger))

	var (
		steps      []Step
		calls      []CallRecord
		usage      llm.Usage
		compressed bool
	)
	turn := 0

	// Nothing may escape the loop boundary: a panic here would take down
	// the hosting process and every concurrent run with it.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("agent loop panicked", zap.Any("panic", r), zap.Stack("stack"))
			l.publish(st, stream.EventError, turn, map[string]interface{}{
				"error": "internal error",
			})
			result = Result{
				Success:       false,
				Err:           "internal error",
				TotalTurns:    turn,
				Usage:         usage,
				Steps:         steps,
				Calls:         calls,
				FinalMessages: messages,
				Compressed:    compressed,
			}
		}
	}()

	if st != nil && l.config.HeartbeatInterval > 0 {
		st.StartHeartbeat(l.config.HeartbeatInterval)
	}

	fail := func(reason string) Result {
		logger.Warn("run failed", zap.Int("turn", turn), zap.String("reason", reason))
		l.publish(st, stream.EventError, turn, map[string]interface{}{"error": reason})
		return Result{
			Success:       false,
			Err:           reason,
			TotalTurns:    turn,
			Usage:         usage,
			Steps:         steps,
			Calls:         calls,
			FinalMessages: messages,
			Compressed:    compressed,
		}
	}
	cancelled := func() Result {
		logger.Info("run cancelled", zap.Int("turn", turn))
		l.publish(st, stream.EventError, turn, map[string]interface{}{"error": "cancelled"})
		return Result{
			Success:       false,
			Err:           "cancelled",
			Cancelled:     true,
			TotalTurns:    turn,
			Usage:         usage,
			Steps:         steps,
			Calls:         calls,
			FinalMessages: messages,
			Compressed:    compressed,
		}
	}

	for next := 1; ; next++ {
		if next > maxTurns {
			return fail(fmt.Sprintf("max turns exceeded (%d)", maxTurns))
		}
		if ctx.Err() != nil {
			return cancelled()
		}
		turn = next

		// Steering happens only here, at the turn boundary, so it can
		// never land between a tool_use and its tool_result.
		if st != nil {
			for _, msg := range st.DrainSteering() {
				logger.Info("steering injected", zap.Int("turn", turn))
				messages = append(messages, llm.UserMessage(msg))
			}
		}

		var outcome compressOutcome
		messages, outcome = l.maybeCompress(ctx, provider, model, req.System, messages, turn)
		if outcome.compressed {
			compressed = true
			usage = usage.Add(outcome.usage)
			calls = append(calls, *outcome.record)
			l.publish(st, stream.EventContextCompressed, turn, map[string]interface{}{
				"message_count": len(messages),
			})
		}

		l.publish(st, stream.EventTurnStart, turn, nil)

		resp, record, err := l.callModel(ctx, turn, llm.Request{
			Provider:  provider,
			Model:     model,
			System:    req.System,
			Messages:  messages,
			Tools:     l.bridge.Definitions(),
			MaxTokens: l.config.MaxTokens,
		}, st)
		calls = append(calls, record)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return cancelled()
			}
			return fail(err.Error())
		}
		usage = usage.Add(resp.Usage)

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Blocks})
		text := resp.Text()
		l.publish(st, stream.EventAssistant, turn, map[string]interface{}{
			"content": text,
		})
		if text != "" {
			steps = append(steps, Step{Role: "assistant", Content: text})
		}

		toolUses := resp.ToolUses()
		if resp.StopReason == llm.StopToolUse && len(toolUses) > 0 {
			resultBlocks := make([]llm.ContentBlock, 0, len(toolUses))
			// Sequential, in emission order: a later call may depend on the
			// side effects of an earlier one.
			for i, tu := range toolUses {
				l.publish(st, stream.EventToolCall, turn, map[string]interface{}{
					"tool_name":  tu.Name,
					"tool_input": string(tu.Input),
				})

				output, isErr, bridgeErr := l.dispatchTool(ctx, tu)
				if bridgeErr != nil {
					// Pair every outstanding tool_use with an error result
					// before bailing out; a persisted history with unpaired
					// tool_use blocks is rejected by the providers on the
					// next call against it.
					aborted := fmt.Sprintf("Tool dispatch aborted: %v", bridgeErr)
					for _, rest := range toolUses[i:] {
						resultBlocks = append(resultBlocks, llm.ToolResultBlock(rest.ID, aborted, true))
					}
					messages = append(messages, llm.Message{Role: llm.RoleTool, Content: resultBlocks})
					l.publish(st, stream.EventToolResult, turn, map[string]interface{}{
						"tool_name":   tu.Name,
						"tool_input":  string(tu.Input),
						"tool_result": aborted,
					})
					if ctx.Err() != nil {
						return cancelled()
					}
					return fail(fmt.Sprintf("tool bridge unreachable: %v", bridgeErr))
				}

				resultBlocks = append(resultBlocks, llm.ToolResultBlock(tu.ID, output, isErr))
				l.publish(st, stream.EventToolResult, turn, map[string]interface{}{
					"tool_name":   tu.Name,
					"tool_input":  string(tu.Input),
					"tool_result": output,
				})
				steps = append(steps, Step{
					Role:       "tool",
					ToolName:   tu.Name,
					ToolInput:  tu.Input,
					ToolResult: output,
				})
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: resultBlocks})

			if ctx.Err() != nil {
				return cancelled()
			}

			if l.config.EnableLoopDetection && detectLoop(messages, l.config.LoopDetectionWindow) {
				warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", l.config.LoopDetectionWindow)
				logger.Warn("tool-call loop detected", zap.Int("turn", turn))
				messages = append(messages, llm.UserMessage(warning))
			}

			l.publish(st, stream.EventTurnComplete, turn, map[string]interface{}{
				"messages_snapshot": snapshotMessages(messages),
			})
			continue
		}

		truncated := resp.StopReason == llm.StopMaxTokens
		if truncated {
			// Truncated output is kept; the run still completes, and the
			// condition is surfaced to stream consumers below.
			logger.Warn("response truncated at max_tokens",
				zap.Int("turn", turn),
				zap.Int("output_tokens", resp.Usage.OutputTokens))
		}

		l.publish(st, stream.EventTurnComplete, turn, map[string]interface{}{
			"messages_snapshot": snapshotMessages(messages),
			"truncated":         truncated,
		})
		l.publish(st, stream.EventComplete, turn, map[string]interface{}{
			"success":             true,
			"answer":              text,
			"total_turns":         turn,
			"total_input_tokens":  usage.InputTokens,
			"total_output_tokens": usage.OutputTokens,
			"skills_used":         toolNames(steps),
			"final_messages":      snapshotMessages(messages),
			"truncated":           truncated,
		})
		logger.Info("run complete",
			zap.Int("turns", turn),
			zap.Int("input_tokens", usage.InputTokens),
			zap.Int("output_tokens", usage.OutputTokens))

		return Result{
			Success:       true,
			Answer:        text,
			TotalTurns:    turn,
			Usage:         usage,
			Steps:         steps,
			Calls:         calls,
			FinalMessages: messages,
			Compressed:    compressed,
		}
	}
}

// promptMessage builds the run's opening user message. Image attachments are
// dropped with a warning when the registry says the model has no vision.
func (l *Loop) promptMessage(req Request, provider, model string, logger *zap.Logger) llm.Message {
	blocks := []llm.ContentBlock{llm.TextBlock(req.Prompt)}
	if len(req.Images) > 0 {
		if llm.SupportsVision(provider, model) {
			for _, img := range req.Images {
				blocks = append(blocks, llm.ImageBlock(img.Data, img.MediaType))
			}
		} else {
			logger.Warn("dropping image attachments: model has no vision support",
				zap.String("model", model),
				zap.Int("images", len(req.Images)))
		}
	}
	return llm.Message{Role: llm.RoleUser, Content: blocks}
}

// callModel makes one logical model call for a turn. In streaming mode each
// text delta is forwarded as a text_delta event; if the stream fails with a
// transient error before completing, the call is retried exactly once via
// the blocking path. Permanent errors are surfaced immediately.
func (l *Loop) callModel(ctx context.Context, turn int, req llm.Request, st *stream.Stream) (*llm.Response, CallRecord, error) {
	start := time.Now()
	record := CallRecord{
		Turn:     turn,
		Provider: req.Provider,
		Model:    req.Model,
		Streamed: l.config.Stream,
		Purpose:  "turn",
	}

	var resp *llm.Response
	var err error
	if l.config.Stream {
		resp, err = l.streamOnce(ctx, turn, req, st)
	} else {
		resp, err = l.client.Create(ctx, req)
	}

	if err != nil && llm.IsTransient(err) && ctx.Err() == nil {
		l.logger.Warn("model call failed, retrying once via blocking call",
			zap.Int("turn", turn), zap.Error(err))
		record.Retried = true
		record.Streamed = false
		resp, err = l.client.Create(ctx, req)
	}

	record.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		return nil, record, err
	}
	record.Usage = resp.Usage
	if resp.Provider != "" {
		record.Provider = resp.Provider
	}
	if resp.Model != "" {
		record.Model = resp.Model
	}
	return resp, record, nil
}

// streamOnce consumes one streaming call, forwarding deltas and returning
// the final aggregated response.
func (l *Loop) streamOnce(ctx context.Context, turn int, req llm.Request, st *stream.Stream) (*llm.Response, error) {
	s, err := l.client.CreateStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var final *llm.Response
	for resp := range s.Responses() {
		if resp.IsDelta {
			l.publish(st, stream.EventTextDelta, turn, map[string]interface{}{
				"text": resp.Text(),
			})
			continue
		}
		r := resp
		final = &r
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if final == nil {
		return nil, &llm.StreamError{ClientError: llm.ClientError{
			Message: "stream ended without a final response",
		}}
	}
	return final, nil
}

// dispatchTool runs one tool call. Malformed arguments from the model and
// expected tool failures become error-text results the model can read; only
// a bridge error (infrastructure failure) is returned as an error.
func (l *Loop) dispatchTool(ctx context.Context, tu llm.ToolUseData) (output string, isError bool, err error) {
	input := tu.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if !json.Valid(input) {
		return fmt.Sprintf("Invalid tool arguments for %s: not valid JSON", tu.Name), true, nil
	}

	out, err := l.bridge.CallTool(ctx, tu.Name, input)
	if err != nil {
		return "", false, err
	}
	return out, false, nil
}

// publish forwards an event when a stream is attached.
func (l *Loop) publish(st *stream.Stream, eventType stream.EventType, turn int, data map[string]interface{}) {
	if st == nil {
		return
	}
	st.Publish(eventType, turn, data)
}

// snapshotMessages copies the history for an event payload so later turns
// cannot mutate what a consumer has already received.
func snapshotMessages(messages []llm.Message) []llm.Message {
	return append([]llm.Message(nil), messages...)
}

// toolNames returns the distinct tool names used, in first-use order.
func toolNames(steps []Step) []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range steps {
		if s.Role != "tool" || s.ToolName == "" || seen[s.ToolName] {
			continue
		}
		seen[s.ToolName] = true
		names = append(names, s.ToolName)
	}
	return names
}

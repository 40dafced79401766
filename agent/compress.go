package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/skillfoundry/skillserver/llm"
)

const summarizeSystemPrompt = `You are a conversation summarizer. Produce a concise summary of the transcript you are given. Preserve: the user's goals, decisions made, important facts and file paths discovered, tool actions taken and their outcomes, and any unresolved questions. Omit pleasantries and redundant detail. Write in plain prose.`

const summarizeUserPrompt = "Summarize the conversation transcript below so it can replace the original messages as context.\n\n%s"

// estimateTokens approximates the token count of a message list at four
// characters per token.
func estimateTokens(system string, messages []llm.Message) int {
	total := len(system)
	for _, msg := range messages {
		for _, b := range msg.Content {
			switch b.Kind {
			case llm.BlockText:
				total += len(b.Text)
			case llm.BlockToolUse:
				if b.ToolUse != nil {
					total += len(b.ToolUse.Name) + len(b.ToolUse.Input)
				}
			case llm.BlockToolResult:
				if b.ToolResult != nil {
					total += len(b.ToolResult.Content)
				}
			case llm.BlockImage:
				if b.Image != nil {
					// Images dominate context; count the encoded size.
					total += len(b.Image.Data)
				}
			}
		}
	}
	return total / 4
}

// safeCutPoint adjusts a naive cut index so the cut never separates a
// tool_use from its tool_result. It moves the cut backward until every
// tool_use before the cut has its result before the cut too.
func safeCutPoint(messages []llm.Message, cut int) int {
	if cut <= 0 {
		return 0
	}
	if cut > len(messages) {
		cut = len(messages)
	}

	for cut > 0 {
		pendingUses := make(map[string]bool)
		for _, msg := range messages[:cut] {
			for _, tu := range msg.ToolUses() {
				pendingUses[tu.ID] = true
			}
			for _, tr := range msg.ToolResults() {
				delete(pendingUses, tr.ToolUseID)
			}
		}
		if len(pendingUses) == 0 {
			return cut
		}
		cut--
	}
	return 0
}

// serializeTranscript renders messages as a plain-text transcript for the
// summarization prompt.
func serializeTranscript(messages []llm.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		for _, b := range msg.Content {
			switch b.Kind {
			case llm.BlockText:
				fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, b.Text)
			case llm.BlockToolUse:
				if b.ToolUse != nil {
					fmt.Fprintf(&sb, "[%s called tool %s] %s\n", msg.Role, b.ToolUse.Name, b.ToolUse.Input)
				}
			case llm.BlockToolResult:
				if b.ToolResult != nil {
					label := "tool result"
					if b.ToolResult.IsError {
						label = "tool error"
					}
					fmt.Fprintf(&sb, "[%s] %s\n", label, b.ToolResult.Content)
				}
			case llm.BlockImage:
				fmt.Fprintf(&sb, "[%s] <image>\n", msg.Role)
			}
		}
	}
	return sb.String()
}

// compressOutcome reports what maybeCompress did.
type compressOutcome struct {
	compressed bool
	record     *CallRecord
	usage      llm.Usage
}

// maybeCompress checks the history against the context budget and, when it
// is too large, replaces the older portion with a summary exchange. The
// summarization call is one extra provider call, recorded and counted like
// any other. On summarization failure the history is returned unchanged:
// an oversized request beats an aborted run.
func (l *Loop) maybeCompress(ctx context.Context, provider, model, system string, messages []llm.Message, turn int) ([]llm.Message, compressOutcome) {
	var out compressOutcome
	if l.config.CompressRatio <= 0 {
		return messages, out
	}

	limit := llm.ContextLimit(provider, model)
	threshold := int(l.config.CompressRatio * float64(limit))
	estimate := estimateTokens(system, messages)
	if estimate <= threshold {
		return messages, out
	}

	keep := l.config.KeepRecentMessages
	if keep < 0 {
		keep = 0
	}
	cut := safeCutPoint(messages, len(messages)-keep)
	if cut <= 0 {
		l.logger.Warn("context over budget but nothing to compress",
			zap.Int("estimated_tokens", estimate),
			zap.Int("threshold", threshold))
		return messages, out
	}

	summaryProvider := l.config.SummaryProvider
	if summaryProvider == "" {
		summaryProvider = provider
	}
	summaryModel := l.config.SummaryModel
	if summaryModel == "" {
		summaryModel = model
	}

	transcript := serializeTranscript(messages[:cut])
	resp, err := l.client.Create(ctx, llm.Request{
		Provider: summaryProvider,
		Model:    summaryModel,
		System:   summarizeSystemPrompt,
		Messages: []llm.Message{
			llm.UserMessage(fmt.Sprintf(summarizeUserPrompt, transcript)),
		},
		MaxTokens: l.config.MaxTokens,
	})
	if err != nil {
		l.logger.Warn("context compression failed, continuing uncompressed",
			zap.Int("estimated_tokens", estimate),
			zap.Error(err))
		return messages, out
	}

	summary := resp.Text()
	if summary == "" {
		l.logger.Warn("empty compression summary, continuing uncompressed")
		return messages, out
	}

	replaced := make([]llm.Message, 0, 2+len(messages)-cut)
	replaced = append(replaced,
		llm.UserMessage("Please summarize our conversation so far."),
		llm.AssistantMessage(summary),
	)
	replaced = append(replaced, messages[cut:]...)

	l.logger.Info("context compressed",
		zap.Int("turn", turn),
		zap.Int("messages_before", len(messages)),
		zap.Int("messages_after", len(replaced)),
		zap.Int("estimated_tokens", estimate))

	out.compressed = true
	out.usage = resp.Usage
	out.record = &CallRecord{
		Turn:     turn,
		Provider: summaryProvider,
		Model:    summaryModel,
		Usage:    resp.Usage,
		Purpose:  "compression",
	}
	return replaced, out
}

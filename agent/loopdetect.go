package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/skillfoundry/skillserver/llm"
)

// toolUseSignature computes a deterministic signature for a tool call
// (name + hash of input).
func toolUseSignature(name string, input json.RawMessage) string {
	h := sha256.Sum256(input)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentToolSignatures extracts signatures from the most recent tool calls
// in the history, in chronological order.
func recentToolSignatures(messages []llm.Message, count int) []string {
	var sigs []string
	for i := len(messages) - 1; i >= 0 && len(sigs) < count; i-- {
		msg := messages[i]
		if msg.Role != llm.RoleAssistant {
			continue
		}
		uses := msg.ToolUses()
		for j := len(uses) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, toolUseSignature(uses[j].Name, uses[j].Input))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// detectLoop reports whether the last windowSize tool calls follow a
// repeating pattern of length 1, 2, or 3.
func detectLoop(messages []llm.Message, windowSize int) bool {
	sigs := recentToolSignatures(messages, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
			if !allMatch {
				break
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}

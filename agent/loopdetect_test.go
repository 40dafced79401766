package agent

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/skillfoundry/skillserver/llm"
)

func toolCallHistory(calls ...[2]string) []llm.Message {
	var msgs []llm.Message
	for i, c := range calls {
		id := fmt.Sprintf("toolu_%d", i)
		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{
				llm.ToolUseBlock(id, c[0], json.RawMessage(c[1])),
			}},
			llm.ToolResultMessage(id, "ok", false),
		)
	}
	return msgs
}

func TestDetectLoopIdenticalCalls(t *testing.T) {
	var calls [][2]string
	for i := 0; i < 6; i++ {
		calls = append(calls, [2]string{"fetch", `{"url":"a"}`})
	}
	if !detectLoop(toolCallHistory(calls...), 6) {
		t.Error("six identical calls not detected")
	}
}

func TestDetectLoopAlternatingPattern(t *testing.T) {
	var calls [][2]string
	for i := 0; i < 3; i++ {
		calls = append(calls,
			[2]string{"read", `{"path":"x"}`},
			[2]string{"write", `{"path":"x"}`},
		)
	}
	if !detectLoop(toolCallHistory(calls...), 6) {
		t.Error("alternating pattern not detected")
	}
}

func TestDetectLoopThreeCycle(t *testing.T) {
	var calls [][2]string
	for i := 0; i < 2; i++ {
		calls = append(calls,
			[2]string{"a", `{}`},
			[2]string{"b", `{}`},
			[2]string{"c", `{}`},
		)
	}
	if !detectLoop(toolCallHistory(calls...), 6) {
		t.Error("three-cycle not detected")
	}
}

func TestDetectLoopDistinctInputsNotALoop(t *testing.T) {
	var calls [][2]string
	for i := 0; i < 6; i++ {
		calls = append(calls, [2]string{"fetch", fmt.Sprintf(`{"page":%d}`, i)})
	}
	if detectLoop(toolCallHistory(calls...), 6) {
		t.Error("distinct inputs flagged as loop")
	}
}

func TestDetectLoopTooFewCalls(t *testing.T) {
	history := toolCallHistory([2]string{"fetch", `{}`}, [2]string{"fetch", `{}`})
	if detectLoop(history, 6) {
		t.Error("short history flagged as loop")
	}
}

func TestToolUseSignatureSensitivity(t *testing.T) {
	a := toolUseSignature("fetch", json.RawMessage(`{"u":1}`))
	b := toolUseSignature("fetch", json.RawMessage(`{"u":2}`))
	c := toolUseSignature("load", json.RawMessage(`{"u":1}`))
	if a == b || a == c {
		t.Errorf("signatures collide: %s %s %s", a, b, c)
	}
	if a != toolUseSignature("fetch", json.RawMessage(`{"u":1}`)) {
		t.Error("signature not deterministic")
	}
}

func TestRecentToolSignaturesOrder(t *testing.T) {
	history := toolCallHistory(
		[2]string{"first", `{}`},
		[2]string{"second", `{}`},
		[2]string{"third", `{}`},
	)
	sigs := recentToolSignatures(history, 2)
	if len(sigs) != 2 {
		t.Fatalf("len = %d", len(sigs))
	}
	if sigs[0] != toolUseSignature("second", json.RawMessage(`{}`)) {
		t.Errorf("sigs[0] = %s, want second", sigs[0])
	}
	if sigs[1] != toolUseSignature("third", json.RawMessage(`{}`)) {
		t.Errorf("sigs[1] = %s, want third", sigs[1])
	}
}

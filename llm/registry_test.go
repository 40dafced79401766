package llm

import "testing"

func TestRegistryKnownModel(t *testing.T) {
	info := GetModelInfo("anthropic", "claude-sonnet-4-5")
	if info == nil {
		t.Fatal("expected registry entry")
	}
	if info.ContextWindow != 200000 {
		t.Errorf("ContextWindow = %d", info.ContextWindow)
	}
	if !info.SupportsTools || !info.SupportsVision {
		t.Error("expected tools and vision support")
	}
}

func TestRegistryFailOpen(t *testing.T) {
	// Unknown models get optimistic defaults rather than an error: new
	// models ship faster than the table updates.
	if got := ContextLimit("anthropic", "claude-next-99"); got != defaultContextWindow {
		t.Errorf("ContextLimit = %d, want %d", got, defaultContextWindow)
	}
	if !SupportsVision("nobody", "mystery-model") {
		t.Error("unknown model should be assumed vision-capable")
	}
	if !SupportsTools("nobody", "mystery-model") {
		t.Error("unknown model should be assumed tool-capable")
	}
	if got := MaxOutputTokens("nobody", "mystery-model"); got != defaultMaxOutput {
		t.Errorf("MaxOutputTokens = %d, want %d", got, defaultMaxOutput)
	}
}

func TestDefaultModel(t *testing.T) {
	if got := DefaultModel("anthropic"); got == "" {
		t.Error("expected a default anthropic model")
	}
	if got := DefaultModel("unknown-provider"); got != "" {
		t.Errorf("DefaultModel = %q, want empty", got)
	}
}

func TestListModelsFilter(t *testing.T) {
	all := ListModels("")
	if len(all) != len(Models) {
		t.Errorf("ListModels(\"\") = %d entries, want %d", len(all), len(Models))
	}
	anthropic := ListModels("anthropic")
	for _, m := range anthropic {
		if m.Provider != "anthropic" {
			t.Errorf("filtered list contains %q", m.Provider)
		}
	}
	if len(anthropic) == 0 {
		t.Error("expected anthropic models")
	}
}

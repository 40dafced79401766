package agent

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// LoopConfig holds the tunables of the agent loop.
type LoopConfig struct {
	// MaxTurns is the turn budget per run.
	MaxTurns int `env:"AGENT_MAX_TURNS" envDefault:"30"`
	// MaxTokens is the per-response output token ceiling passed to the
	// provider client (which clamps it further per backend).
	MaxTokens int `env:"AGENT_MAX_TOKENS" envDefault:"8192"`
	// Stream selects streaming provider calls with text_delta forwarding.
	Stream bool `env:"AGENT_STREAM" envDefault:"true"`
	// CompressRatio is the fraction of the model's context window at which
	// context compression triggers.
	CompressRatio float64 `env:"AGENT_COMPRESS_RATIO" envDefault:"0.75"`
	// KeepRecentMessages is the recency window preserved verbatim when
	// compressing.
	KeepRecentMessages int `env:"AGENT_KEEP_RECENT_MESSAGES" envDefault:"8"`
	// SummaryProvider/SummaryModel select the backend for the compression
	// summary call. Empty means the run's own provider and model.
	SummaryProvider string `env:"AGENT_SUMMARY_PROVIDER"`
	SummaryModel    string `env:"AGENT_SUMMARY_MODEL"`
	// HeartbeatInterval is the stream heartbeat period. Zero disables
	// heartbeats.
	HeartbeatInterval time.Duration `env:"AGENT_HEARTBEAT_INTERVAL" envDefault:"15s"`
	// EnableLoopDetection turns on repeated-tool-call detection.
	EnableLoopDetection bool `env:"AGENT_LOOP_DETECTION" envDefault:"true"`
	// LoopDetectionWindow is how many recent tool calls the detector
	// examines.
	LoopDetectionWindow int `env:"AGENT_LOOP_DETECTION_WINDOW" envDefault:"10"`
}

// DefaultLoopConfig returns the default configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxTurns:            30,
		MaxTokens:           8192,
		Stream:              true,
		CompressRatio:       0.75,
		KeepRecentMessages:  8,
		HeartbeatInterval:   15 * time.Second,
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
	}
}

// ConfigFromEnv loads LoopConfig from AGENT_* environment variables,
// falling back to the defaults above.
func ConfigFromEnv() (LoopConfig, error) {
	var cfg LoopConfig
	if err := env.Parse(&cfg); err != nil {
		return LoopConfig{}, fmt.Errorf("parsing agent config: %w", err)
	}
	return cfg, nil
}

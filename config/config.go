// Package config loads the tunable timing and depth parameters for a
// Writer or Reader from a TOML file, the way the Rust implementation
// this core's behavior was distilled from hardcoded them into each
// constructor.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// History selects a Writer's retention policy.
type History struct {
	// Kind is one of "keep_all" or "keep_last".
	Kind string `toml:"kind"`
	// Depth is the retained sample count when Kind is "keep_last".
	Depth int `toml:"depth"`
}

// WriterConfig holds the timing and retention parameters a Writer
// Engine needs.
type WriterConfig struct {
	PushMode              bool          `toml:"push_mode"`
	Reliable              bool          `toml:"reliable"`
	HeartbeatPeriod       time.Duration `toml:"heartbeat_period"`
	CacheCleaningPeriod   time.Duration `toml:"cache_cleaning_period"`
	NackResponseDelay     time.Duration `toml:"nack_response_delay"`
	NackSuppressionDuration time.Duration `toml:"nack_suppression_duration"`
	History               History       `toml:"history"`
}

// DefaultWriterConfig mirrors the hardcoded defaults of the
// implementation this behavior was distilled from: a 3-second
// heartbeat period for reliable writers (none for best-effort), a
// 2-minute cache-cleaning period, and a 200ms nack response delay.
func DefaultWriterConfig(reliable bool) WriterConfig {
	cfg := WriterConfig{
		PushMode:            true,
		Reliable:            reliable,
		CacheCleaningPeriod: 2 * time.Minute,
		NackResponseDelay:   200 * time.Millisecond,
		History:             History{Kind: "keep_all"},
	}
	if reliable {
		cfg.HeartbeatPeriod = 3 * time.Second
	}
	return cfg
}

// ReaderConfig holds the timing parameters a Reader Engine needs.
type ReaderConfig struct {
	Reliable          bool          `toml:"reliable"`
	NackResponseDelay time.Duration `toml:"nack_response_delay"`
}

// DefaultReaderConfig mirrors the Writer-side default nack response
// delay.
func DefaultReaderConfig(reliable bool) ReaderConfig {
	return ReaderConfig{
		Reliable:          reliable,
		NackResponseDelay: 200 * time.Millisecond,
	}
}

// Load reads a WriterConfig from a TOML file at path, starting from
// DefaultWriterConfig(reliable) and overriding whatever fields the
// file sets.
func Load(path string, reliable bool) (WriterConfig, error) {
	cfg := DefaultWriterConfig(reliable)
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return WriterConfig{}, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return cfg, nil
}

// LoadReader reads a ReaderConfig from a TOML file at path.
func LoadReader(path string, reliable bool) (ReaderConfig, error) {
	cfg := DefaultReaderConfig(reliable)
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ReaderConfig{}, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return cfg, nil
}

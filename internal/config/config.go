package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/weft/internal/logbuffer"
)

// Config is the top-level node configuration loaded from file/env.
type Config struct {
	// TermBufferLength is the default term length for new publications,
	// overridable per channel. Power of two.
	TermBufferLength int32 `json:"termBufferLength" yaml:"termBufferLength"`
	// MTULength bounds a single unfragmented frame; larger offers are
	// split into fragments.
	MTULength int32 `json:"mtuLength" yaml:"mtuLength"`
	// ReceiverWindow is the window each receiver grants beyond its
	// consumption position in status messages.
	ReceiverWindow int32 `json:"receiverWindow" yaml:"receiverWindow"`

	// ReceiverTimeout evicts a receiver from flow control when no status
	// message arrives within it.
	ReceiverTimeout Duration `json:"receiverTimeout" yaml:"receiverTimeout"`
	// ImageTimeout tears down an image when none of its transports
	// delivers a frame within it.
	ImageTimeout Duration `json:"imageTimeout" yaml:"imageTimeout"`
	// HeartbeatInterval paces sender heartbeats on idle streams.
	HeartbeatInterval Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"`
	// StatusInterval paces unforced receiver status messages.
	StatusInterval Duration `json:"statusInterval" yaml:"statusInterval"`

	// HTTPAddr is the observability listen address; empty disables it.
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`

	Log struct {
		Level  string `json:"level" yaml:"level"`
		Format string `json:"format" yaml:"format"`
	} `json:"log" yaml:"log"`
}

// Default returns built-in defaults.
func Default() Config {
	cfg := Config{
		TermBufferLength:  1 << 20,
		MTULength:         8 * 1024,
		ReceiverWindow:    128 * 1024,
		ReceiverTimeout:   Duration(2 * time.Second),
		ImageTimeout:      Duration(4 * time.Second),
		HeartbeatInterval: Duration(100 * time.Millisecond),
		StatusInterval:    Duration(20 * time.Millisecond),
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads configuration from a JSON or YAML file (by extension). If
// path is empty, returns defaults. Environment overrides are applied on
// top by FromEnv, not here.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if !logbuffer.IsPowerOfTwo(c.TermBufferLength) {
		return fmt.Errorf("config: termBufferLength must be a power of two, got %d", c.TermBufferLength)
	}
	if c.TermBufferLength < logbuffer.TermMinLength || c.TermBufferLength > logbuffer.TermMaxLength {
		return fmt.Errorf("config: termBufferLength %d out of range", c.TermBufferLength)
	}
	if c.MTULength < logbuffer.HeaderLength+logbuffer.FrameAlignment {
		return fmt.Errorf("config: mtuLength %d too small", c.MTULength)
	}
	if c.MTULength > c.TermBufferLength/2 {
		return fmt.Errorf("config: mtuLength %d exceeds half the term length", c.MTULength)
	}
	if c.ReceiverWindow <= 0 {
		return fmt.Errorf("config: receiverWindow must be positive")
	}
	return nil
}

// MaxPayload is the largest payload carried by one frame.
func (c Config) MaxPayload() int32 {
	return c.MTULength - logbuffer.HeaderLength
}

// MaxMessage is the largest offer accepted before fragmentation limits
// apply: an eighth of the term, the usual bound keeping any one message
// well inside a single term.
func (c Config) MaxMessage(termLength int32) int32 {
	return termLength / 8
}

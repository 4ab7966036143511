package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "weft.yaml", `
termBufferLength: 65536
mtuLength: 4096
receiverWindow: 32768
receiverTimeout: 750ms
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TermBufferLength != 65536 || cfg.MTULength != 4096 {
		t.Fatalf("geometry %+v", cfg)
	}
	if cfg.ReceiverTimeout.D() != 750*time.Millisecond {
		t.Fatalf("receiverTimeout %v", cfg.ReceiverTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level %q", cfg.Log.Level)
	}
	// Unset fields keep their defaults.
	if cfg.HeartbeatInterval != Default().HeartbeatInterval {
		t.Fatalf("heartbeatInterval %v", cfg.HeartbeatInterval)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "weft.json", `{"termBufferLength": 131072, "statusInterval": "5ms"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TermBufferLength != 131072 {
		t.Fatalf("termBufferLength %d", cfg.TermBufferLength)
	}
	if cfg.StatusInterval.D() != 5*time.Millisecond {
		t.Fatalf("statusInterval %v", cfg.StatusInterval)
	}
}

func TestLoadRejectsInvalidGeometry(t *testing.T) {
	path := writeFile(t, "weft.yaml", "termBufferLength: 100000\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for non power-of-two term")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WEFT_TERM_BUFFER_LENGTH", "262144")
	t.Setenv("WEFT_RECEIVER_TIMEOUT", "1s")
	t.Setenv("WEFT_LOG_FORMAT", "json")
	cfg := Default()
	FromEnv(&cfg)
	if cfg.TermBufferLength != 262144 {
		t.Fatalf("termBufferLength %d", cfg.TermBufferLength)
	}
	if cfg.ReceiverTimeout.D() != time.Second {
		t.Fatalf("receiverTimeout %v", cfg.ReceiverTimeout)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log format %q", cfg.Log.Format)
	}
}

func TestMaxPayload(t *testing.T) {
	cfg := Default()
	if cfg.MaxPayload() != cfg.MTULength-32 {
		t.Fatalf("max payload %d", cfg.MaxPayload())
	}
}

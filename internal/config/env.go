package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays WEFT_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("WEFT_TERM_BUFFER_LENGTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.TermBufferLength = int32(n)
		}
	}
	if v := os.Getenv("WEFT_MTU_LENGTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.MTULength = int32(n)
		}
	}
	if v := os.Getenv("WEFT_RECEIVER_WINDOW"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.ReceiverWindow = int32(n)
		}
	}
	if v := os.Getenv("WEFT_RECEIVER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReceiverTimeout = Duration(d)
		}
	}
	if v := os.Getenv("WEFT_IMAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ImageTimeout = Duration(d)
		}
	}
	if v := os.Getenv("WEFT_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HeartbeatInterval = Duration(d)
		}
	}
	if v := os.Getenv("WEFT_STATUS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StatusInterval = Duration(d)
		}
	}
	if v := os.Getenv("WEFT_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("WEFT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WEFT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

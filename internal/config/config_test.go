package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupFromMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(nil, lookupFromMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.StaticDir != "." {
		t.Errorf("StaticDir=%q, want %q", cfg.StaticDir, ".")
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat=%q, want text", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel=%v, want info", cfg.LogLevel)
	}
	if cfg.MaxSignalMessageBytes != DefaultMaxSignalMessageBytes {
		t.Errorf("MaxSignalMessageBytes=%d, want %d", cfg.MaxSignalMessageBytes, DefaultMaxSignalMessageBytes)
	}
	if cfg.PortRange != nil {
		t.Errorf("PortRange=%v, want nil", cfg.PortRange)
	}
	if cfg.MaxRoomMembers != 0 {
		t.Errorf("MaxRoomMembers=%d, want 0", cfg.MaxRoomMembers)
	}
}

func TestLoad_EnvAndFlags(t *testing.T) {
	env := map[string]string{
		"GROUPPLAY_LISTEN_ADDR":      "0.0.0.0:8000",
		"GROUPPLAY_LOG_FORMAT":       "json",
		"GROUPPLAY_LOG_LEVEL":        "debug",
		"GROUPPLAY_PORT_RANGE":       "9999-10999",
		"GROUPPLAY_ALLOWED_ORIGINS":  "https://a.example, https://b.example",
		"GROUPPLAY_MAX_ROOM_MEMBERS": "8",
		"GROUPPLAY_SHUTDOWN_TIMEOUT": "5s",
	}

	cfg, err := load([]string{"-listen", "127.0.0.1:7777"}, lookupFromMap(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// The flag wins over the env var.
	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Errorf("ListenAddr=%q, want flag value", cfg.ListenAddr)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat=%q, want json", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.PortRange == nil || cfg.PortRange.Min != 9999 || cfg.PortRange.Max != 10999 {
		t.Errorf("PortRange=%+v, want 9999-10999", cfg.PortRange)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if cfg.MaxRoomMembers != 8 {
		t.Errorf("MaxRoomMembers=%d, want 8", cfg.MaxRoomMembers)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout=%v, want 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad log format", map[string]string{"GROUPPLAY_LOG_FORMAT": "xml"}},
		{"bad log level", map[string]string{"GROUPPLAY_LOG_LEVEL": "loud"}},
		{"bad port range", map[string]string{"GROUPPLAY_PORT_RANGE": "10999-9999"}},
		{"bad port range syntax", map[string]string{"GROUPPLAY_PORT_RANGE": "many"}},
		{"bad int", map[string]string{"GROUPPLAY_MAX_ROOM_MEMBERS": "lots"}},
		{"ping not under pong", map[string]string{
			"GROUPPLAY_WS_PING_INTERVAL": "2m",
			"GROUPPLAY_WS_PONG_TIMEOUT":  "1m",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(nil, lookupFromMap(tc.env)); err == nil {
				t.Fatalf("expected error for %v", tc.env)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: format})
		if err != nil {
			t.Fatalf("NewLogger(%s): %v", format, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%s) returned nil", format)
		}
	}

	if _, err := NewLogger(Config{LogFormat: "yaml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envListenAddr      = "GROUPPLAY_LISTEN_ADDR"
	envPortRange       = "GROUPPLAY_PORT_RANGE"
	envStaticDir       = "GROUPPLAY_STATIC_DIR"
	envLogFormat       = "GROUPPLAY_LOG_FORMAT"
	envLogLevel        = "GROUPPLAY_LOG_LEVEL"
	envShutdownTimeout = "GROUPPLAY_SHUTDOWN_TIMEOUT"
	envAllowedOrigins  = "GROUPPLAY_ALLOWED_ORIGINS"

	// WebSocket signaling hardening.
	envMaxSignalMessageBytes      = "GROUPPLAY_MAX_SIGNAL_MESSAGE_BYTES"
	envMaxSignalMessagesPerSecond = "GROUPPLAY_MAX_SIGNAL_MESSAGES_PER_SECOND"
	envWSPingInterval             = "GROUPPLAY_WS_PING_INTERVAL"
	envWSPongTimeout              = "GROUPPLAY_WS_PONG_TIMEOUT"
	envMaxRoomMembers             = "GROUPPLAY_MAX_ROOM_MEMBERS"
)

const (
	DefaultListenAddr = "127.0.0.1:9999"
	DefaultShutdown   = 15 * time.Second

	DefaultMaxSignalMessageBytes      = 64 * 1024 // enough for any SDP
	DefaultMaxSignalMessagesPerSecond = 50
	DefaultWSPongTimeout              = 60 * time.Second
	DefaultWSPingInterval             = DefaultWSPongTimeout * 9 / 10
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// PortRange is an inclusive TCP port range the relay may bind when the
// configured listen port is taken (the dev workflow serves the demo page
// from an arbitrary free port).
type PortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	ListenAddr string
	PortRange  *PortRange
	StaticDir  string

	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	// AllowedOrigins restricts WebSocket upgrades. Empty means allow all
	// (dev mode); the relay does not authenticate room membership.
	AllowedOrigins []string

	MaxSignalMessageBytes      int64
	MaxSignalMessagesPerSecond int
	WSPingInterval             time.Duration
	WSPongTimeout              time.Duration

	// MaxRoomMembers caps a room's size. 0 means unlimited.
	MaxRoomMembers int

	ICEServersJSON string
	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string
}

// Load parses flags and environment variables. Flags win over env vars,
// env vars win over defaults.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		ListenAddr:                 envOrDefault(lookup, envListenAddr, DefaultListenAddr),
		StaticDir:                  envOrDefault(lookup, envStaticDir, "."),
		ShutdownTimeout:            DefaultShutdown,
		MaxSignalMessageBytes:      DefaultMaxSignalMessageBytes,
		MaxSignalMessagesPerSecond: DefaultMaxSignalMessagesPerSecond,
		WSPingInterval:             DefaultWSPingInterval,
		WSPongTimeout:              DefaultWSPongTimeout,
	}

	fs := flag.NewFlagSet("groupplay-relay", flag.ContinueOnError)
	listenFlag := fs.String("listen", "", "listen address (host:port)")
	staticFlag := fs.String("static-dir", "", "directory of static files to serve, empty disables")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}
	if *staticFlag != "" {
		cfg.StaticDir = *staticFlag
	}

	var err error
	if cfg.PortRange, err = parsePortRange(envOrDefault(lookup, envPortRange, "")); err != nil {
		return Config{}, err
	}

	if cfg.LogFormat, err = parseLogFormat(envOrDefault(lookup, envLogFormat, string(LogFormatText))); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = parseLogLevel(envOrDefault(lookup, envLogLevel, "info")); err != nil {
		return Config{}, err
	}

	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envShutdownTimeout, DefaultShutdown); err != nil {
		return Config{}, err
	}
	if cfg.WSPingInterval, err = envDurationOrDefault(lookup, envWSPingInterval, DefaultWSPingInterval); err != nil {
		return Config{}, err
	}
	if cfg.WSPongTimeout, err = envDurationOrDefault(lookup, envWSPongTimeout, DefaultWSPongTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSPingInterval >= cfg.WSPongTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be shorter than %s (%s)",
			envWSPingInterval, cfg.WSPingInterval, envWSPongTimeout, cfg.WSPongTimeout)
	}

	maxBytes, err := envIntOrDefault(lookup, envMaxSignalMessageBytes, DefaultMaxSignalMessageBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSignalMessageBytes = int64(maxBytes)

	if cfg.MaxSignalMessagesPerSecond, err = envIntOrDefault(lookup, envMaxSignalMessagesPerSecond, DefaultMaxSignalMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.MaxRoomMembers, err = envIntOrDefault(lookup, envMaxRoomMembers, 0); err != nil {
		return Config{}, err
	}

	if raw := envOrDefault(lookup, envAllowedOrigins, ""); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	cfg.ICEServersJSON = envOrDefault(lookup, envICEServersJSON, "")
	cfg.STUNURLs = envOrDefault(lookup, envStunURLs, "")
	cfg.TURNURLs = envOrDefault(lookup, envTurnURLs, "")
	cfg.TURNUsername = envOrDefault(lookup, envTurnUsername, "")
	cfg.TURNCredential = envOrDefault(lookup, envTurnCredential, "")

	return cfg, nil
}

// NewLogger builds the process logger per the configured format and level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want text or json)", envLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envLogLevel, raw)
	}
}

func parsePortRange(raw string) (*PortRange, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	lo, hi, ok := strings.Cut(raw, "-")
	if !ok {
		return nil, fmt.Errorf("invalid %s %q (want MIN-MAX)", envPortRange, raw)
	}
	minPort, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", envPortRange, raw, err)
	}
	maxPort, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", envPortRange, raw, err)
	}
	if minPort == 0 || maxPort < minPort {
		return nil, fmt.Errorf("invalid %s %q (want 0 < MIN <= MAX)", envPortRange, raw)
	}
	return &PortRange{Min: uint16(minPort), Max: uint16(maxPort)}, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

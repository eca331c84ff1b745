package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/avpeers/groupplay/internal/config"
	"github.com/avpeers/groupplay/internal/httpserver"
	"github.com/avpeers/groupplay/internal/metrics"
	"github.com/avpeers/groupplay/internal/relay"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting groupplay-relay",
		"listen_addr", cfg.ListenAddr,
		"port_range", cfg.PortRange,
		"static_dir", cfg.StaticDir,
		"allowed_origins", cfg.AllowedOrigins,
		"max_room_members", cfg.MaxRoomMembers,
		"max_signal_message_bytes", cfg.MaxSignalMessageBytes,
		"max_signal_messages_per_second", cfg.MaxSignalMessagesPerSecond,
	)

	ln, err := listen(cfg, logger)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	m := metrics.New()
	registry := relay.NewRegistry(cfg.MaxRoomMembers)
	router := relay.NewRouter(logger, registry, m)
	ws := relay.NewWSServer(logger, cfg, registry, router, m)

	srv.Mux().Handle("GET /ws", ws)

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	// The demo page and the extension assets, when present.
	if cfg.StaticDir != "" {
		srv.Mux().Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// listen binds the configured address. With a port range configured,
// each port is tried in order so several room servers can share a host
// without coordination; clients probe the same range.
func listen(cfg config.Config, logger *slog.Logger) (net.Listener, error) {
	if cfg.PortRange == nil {
		return net.Listen("tcp", cfg.ListenAddr)
	}

	host, _, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen addr %q: %w", cfg.ListenAddr, err)
	}

	var lastErr error
	// int, not uint16: port++ past 65535 would wrap to 0 and bind an
	// arbitrary free port outside the range.
	for port := int(cfg.PortRange.Min); port <= int(cfg.PortRange.Max); port++ {
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		logger.Debug("port busy, trying next", "addr", addr, "err", err)
	}
	return nil, fmt.Errorf("no free port in %d-%d: %w", cfg.PortRange.Min, cfg.PortRange.Max, lastErr)
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}

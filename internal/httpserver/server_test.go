package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avpeers/groupplay/internal/config"
)

func startServer(t *testing.T, cfg config.Config) (*Server, string) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, log, BuildInfo{Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })

	base := "http://" + l.Addr().String()
	waitForHealthy(t, base)
	return s, base
}

func waitForHealthy(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never became healthy")
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestServer_HealthAndVersion(t *testing.T) {
	_, base := startServer(t, config.Config{})

	var health map[string]any
	resp := getJSON(t, base+"/healthz", &health)
	if resp.StatusCode != http.StatusOK || health["ok"] != true {
		t.Errorf("healthz: status=%d body=%v", resp.StatusCode, health)
	}

	var ready map[string]any
	resp = getJSON(t, base+"/readyz", &ready)
	if resp.StatusCode != http.StatusOK || ready["ready"] != true {
		t.Errorf("readyz: status=%d body=%v", resp.StatusCode, ready)
	}

	var build BuildInfo
	getJSON(t, base+"/version", &build)
	if build.Commit != "abc123" {
		t.Errorf("version commit=%q", build.Commit)
	}
}

func TestServer_ICEEndpoint(t *testing.T) {
	_, base := startServer(t, config.Config{
		STUNURLs: "stun:stun.example.com:3478",
	})

	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	resp := getJSON(t, base+"/ice", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Errorf("iceServers=%+v", body.ICEServers)
	}
}

func TestServer_RequestIDPropagated(t *testing.T) {
	_, base := startServer(t, config.Config{})

	req, _ := http.NewRequest(http.MethodGet, base+"/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("request id=%q, want fixed-id", got)
	}

	// And minted when absent.
	resp, err = http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Errorf("no request id minted")
	}
}

func TestServer_RecoverMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(config.Config{}, log, BuildInfo{})
	s.Mux().HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status=%d, want 500", rec.Code)
	}
}

func TestServer_ReadyzBeforeServe(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(config.Config{}, log, BuildInfo{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status=%d, want 503 before Serve", rec.Code)
	}
}

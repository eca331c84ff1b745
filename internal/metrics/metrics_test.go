package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestMetrics_IncAndSnapshot(t *testing.T) {
	m := New()
	m.Inc(MessageRouted)
	m.Inc(MessageRouted)
	m.Inc(DropReasonUnknownTarget)

	if got := m.Get(MessageRouted); got != 2 {
		t.Fatalf("Get(%s)=%d, want 2", MessageRouted, got)
	}

	snap := m.Snapshot()
	if snap[DropReasonUnknownTarget] != 1 {
		t.Fatalf("snapshot %s=%d, want 1", DropReasonUnknownTarget, snap[DropReasonUnknownTarget])
	}

	// Snapshot must be a copy, not a view.
	snap[MessageRouted] = 99
	if got := m.Get(MessageRouted); got != 2 {
		t.Fatalf("Get(%s)=%d after snapshot mutation, want 2", MessageRouted, got)
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(SessionOpened)
	if got := m.Get(SessionOpened); got != 0 {
		t.Fatalf("Get on nil=%d, want 0", got)
	}
	if snap := m.Snapshot(); snap != nil {
		t.Fatalf("Snapshot on nil=%v, want nil", snap)
	}
}

func TestMetrics_ConcurrentInc(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(SessionOpened)
			}
		}()
	}
	wg.Wait()
	if got := m.Get(SessionOpened); got != 8000 {
		t.Fatalf("Get(%s)=%d, want 8000", SessionOpened, got)
	}
}

func TestPrometheusHandler_TextFormat(t *testing.T) {
	m := New()
	m.Inc(RoomCreated)
	m.Inc(DropReasonMalformedMessage)
	m.Inc(DropReasonMalformedMessage)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE groupplay_relay_events_total counter",
		`groupplay_relay_events_total{event="room_created"} 1`,
		`groupplay_relay_events_total{event="malformed_message"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}

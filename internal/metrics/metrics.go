package metrics

import "sync"

// Event names used by the relay. Routing failures are counted per drop
// reason so operators can tell a misbehaving client from a lossy one.
const (
	SessionOpened = "session_opened"
	SessionClosed = "session_closed"
	RoomCreated   = "room_created"
	RoomDeleted   = "room_deleted"
	MessageRouted = "message_routed"

	DropReasonMalformedMessage = "malformed_message"
	DropReasonUnknownTarget    = "unknown_target"
	DropReasonDuplicateJoin    = "duplicate_join"
	DropReasonNotJoined        = "not_joined"
	DropReasonSendQueueFull    = "send_queue_full"
	DropReasonRateLimited      = "rate_limited"
	DropReasonRoomFull         = "room_full"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to plug into a real metrics backend eventually;
// this type keeps the routing logic testable and provides drop counters
// without pulling in a client library.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

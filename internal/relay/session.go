package relay

import (
	"sync"

	"github.com/google/uuid"
)

// outboundBuffer bounds the per-session frame queue. A member that
// stops draining its socket loses frames rather than stalling the room.
const outboundBuffer = 64

// Session is one WebSocket connection's state. The router mutates it
// only under the registry lock; the write pump drains Out concurrently.
type Session struct {
	ID string

	mu      sync.Mutex
	roomKey string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession() *Session {
	return &Session{
		ID:   uuid.NewString(),
		out:  make(chan []byte, outboundBuffer),
		done: make(chan struct{}),
	}
}

// RoomKey returns the joined room's key, or "" before a join.
func (s *Session) RoomKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomKey
}

func (s *Session) setRoomKey(key string) {
	s.mu.Lock()
	s.roomKey = key
	s.mu.Unlock()
}

// Enqueue queues a frame for the write pump without blocking. It
// reports false when the session is closed or its buffer is full; the
// caller decides whether that counts as a drop.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Out is drained by the connection's write pump.
func (s *Session) Out() <-chan []byte {
	return s.out
}

// Done closes when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent. It wakes the write pump; it does not touch room
// membership, which is the router's job.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

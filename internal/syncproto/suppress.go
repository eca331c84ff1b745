package syncproto

import "sync"

// Suppressor breaks control-message echo loops. Applying a remote
// control makes the local player emit the very same event it would emit
// for a user action; arming the suppressor before applying swallows
// exactly that one event. Each control kind is tracked independently,
// and arming is never cumulative: two remote plays in a row still
// suppress only the next local play event.
type Suppressor struct {
	mu    sync.Mutex
	armed map[Kind]bool
}

func NewSuppressor() *Suppressor {
	return &Suppressor{armed: make(map[Kind]bool)}
}

// Arm marks the next local event of kind as remote-caused.
func (s *Suppressor) Arm(kind Kind) {
	s.mu.Lock()
	s.armed[kind] = true
	s.mu.Unlock()
}

// Consume reports whether the event of kind was remote-caused and
// clears the mark. The second consume for a single arm returns false.
func (s *Suppressor) Consume(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed[kind] {
		return false
	}
	s.armed[kind] = false
	return true
}

// Disarm clears the mark without consuming, for when applying the
// remote control failed and no local event will follow.
func (s *Suppressor) Disarm(kind Kind) {
	s.mu.Lock()
	s.armed[kind] = false
	s.mu.Unlock()
}

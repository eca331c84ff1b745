package relay

import (
	"errors"
	"sync"
)

var (
	ErrAlreadyJoined = errors.New("relay: session already joined a room")
	ErrNotJoined     = errors.New("relay: session has not joined a room")
	ErrRoomFull      = errors.New("relay: room is full")
	ErrUnknownTarget = errors.New("relay: no such member in room")
)

// Registry owns every room. A single lock serializes all membership
// changes and routing lookups; notification callbacks run inside the
// critical section so that everyone observes joins, leaves, and routed
// frames in one consistent order. Callbacks must only enqueue; actual
// socket writes happen in the per-connection write pumps.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	// maxMembers caps room size; 0 means unlimited.
	maxMembers int
}

type room struct {
	key     string
	members map[string]*Session
	order   []*Session // insertion order, drives bootstrap fan-out
}

func NewRegistry(maxMembers int) *Registry {
	return &Registry{
		rooms:      make(map[string]*room),
		maxMembers: maxMembers,
	}
}

// Join adds s to the room for key, creating the room on first use.
// notify runs under the registry lock with the members that were
// already present, oldest first. The bool result reports whether the
// room was created.
func (r *Registry) Join(key string, s *Session, notify func(prior []*Session)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.RoomKey() != "" {
		return false, ErrAlreadyJoined
	}

	created := false
	rm := r.rooms[key]
	if rm == nil {
		rm = &room{key: key, members: make(map[string]*Session)}
		r.rooms[key] = rm
		created = true
	}
	if r.maxMembers > 0 && len(rm.members) >= r.maxMembers {
		if created {
			delete(r.rooms, key)
		}
		return false, ErrRoomFull
	}

	prior := append([]*Session(nil), rm.order...)

	rm.members[s.ID] = s
	rm.order = append(rm.order, s)
	s.setRoomKey(key)

	if notify != nil {
		notify(prior)
	}
	return created, nil
}

// Leave removes s from its room, deleting the room when it empties.
// notify runs under the registry lock with the remaining members. A
// session that never joined leaves without effect.
func (r *Registry) Leave(s *Session, notify func(remaining []*Session)) (roomDeleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := s.RoomKey()
	if key == "" {
		return false
	}
	s.setRoomKey("")

	rm := r.rooms[key]
	if rm == nil {
		return false
	}
	delete(rm.members, s.ID)
	for i, member := range rm.order {
		if member == s {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}

	if len(rm.members) == 0 {
		delete(r.rooms, key)
		return true
	}

	if notify != nil {
		notify(append([]*Session(nil), rm.order...))
	}
	return false
}

// Members lists the ids of the room's members, oldest first. A missing
// room yields nil.
func (r *Registry) Members(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[key]
	if rm == nil {
		return nil
	}
	ids := make([]string, len(rm.order))
	for i, member := range rm.order {
		ids[i] = member.ID
	}
	return ids
}

// Route enqueues frame to the member targetID of sender's room.
func (r *Registry) Route(sender *Session, targetID string, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sender.RoomKey()
	if key == "" {
		return ErrNotJoined
	}
	rm := r.rooms[key]
	if rm == nil {
		return ErrNotJoined
	}
	target := rm.members[targetID]
	if target == nil || targetID == sender.ID {
		return ErrUnknownTarget
	}
	if !target.Enqueue(frame) {
		return errSendQueueFull
	}
	return nil
}

var errSendQueueFull = errors.New("relay: member send queue full")

// Stats reports the current room and member counts.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rm := range r.rooms {
		members += len(rm.members)
	}
	return len(r.rooms), members
}

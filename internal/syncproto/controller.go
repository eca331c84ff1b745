package syncproto

import (
	"log/slog"
	"sync"
)

// driftTolerance is how far ahead (seconds) a state-reply's playhead
// may be before we snap forward to it. Within the tolerance the
// positions are considered in sync and only the paused state is
// reconciled.
const driftTolerance = 1.0

// Sender is the slice of the peer layer the controller uses.
// *peerlink.Orchestrator satisfies it.
type Sender interface {
	Broadcast(payload []byte)
	SendTo(peerID string, payload []byte) error
}

// Controller translates between local player events and the sync
// protocol. One controller serves one player.
type Controller struct {
	log      *slog.Logger
	player   Player
	sender   Sender
	suppress *Suppressor

	// mu serializes remote message handling against local events.
	mu sync.Mutex
}

func NewController(log *slog.Logger, player Player, sender Sender) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:      log.With("component", "sync"),
		player:   player,
		sender:   sender,
		suppress: NewSuppressor(),
	}
}

// HandleLocalPlay is called by the player for every play event. Events
// caused by a remote control are swallowed; everything else broadcasts.
func (c *Controller) HandleLocalPlay() {
	if c.suppress.Consume(KindPlay) {
		return
	}
	c.broadcast(KindPlay, nil)
}

func (c *Controller) HandleLocalPause() {
	if c.suppress.Consume(KindPause) {
		return
	}
	c.broadcast(KindPause, nil)
}

func (c *Controller) HandleLocalSeek(seconds float64) {
	if c.suppress.Consume(KindSeek) {
		return
	}
	c.broadcast(KindSeek, SeekData{CurrentTime: seconds})
}

// RequestState asks the room where playback stands. Late joiners call
// this once their first data channel opens.
func (c *Controller) RequestState(selfID string) {
	c.broadcast(KindStateRequest, StateRequestData{RequesterID: selfID})
}

// HandleMessage processes one data-channel payload from peerID.
// Malformed payloads are logged and dropped.
func (c *Controller) HandleMessage(peerID string, payload []byte) {
	env, err := ParseEnvelope(payload)
	if err != nil {
		c.log.Warn("dropping unparseable sync message", "peer", peerID, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Type {
	case KindPlay:
		c.applyPlay(peerID)
	case KindPause:
		c.applyPause(peerID)
	case KindSeek:
		data, err := env.Seek()
		if err != nil {
			c.log.Warn("bad seek", "peer", peerID, "error", err)
			return
		}
		c.applySeek(peerID, data.CurrentTime)
	case KindStateRequest:
		c.replyState(peerID)
	case KindStateReply:
		data, err := env.StateReply()
		if err != nil {
			c.log.Warn("bad state-reply", "peer", peerID, "error", err)
			return
		}
		c.applyStateReply(peerID, data)
	default:
		c.log.Debug("ignoring sync message", "peer", peerID, "type", env.Type)
	}
}

func (c *Controller) applyPlay(peerID string) {
	if !c.player.Paused() {
		// Already playing; applying would emit no event, so arming
		// would poison the next genuine one.
		return
	}
	c.suppress.Arm(KindPlay)
	if err := c.player.Play(); err != nil {
		c.suppress.Disarm(KindPlay)
		c.log.Warn("remote play failed", "peer", peerID, "error", err)
	}
}

func (c *Controller) applyPause(peerID string) {
	if c.player.Paused() {
		return
	}
	c.suppress.Arm(KindPause)
	if err := c.player.Pause(); err != nil {
		c.suppress.Disarm(KindPause)
		c.log.Warn("remote pause failed", "peer", peerID, "error", err)
	}
}

func (c *Controller) applySeek(peerID string, seconds float64) {
	c.suppress.Arm(KindSeek)
	if err := c.player.Seek(seconds); err != nil {
		c.suppress.Disarm(KindSeek)
		c.log.Warn("remote seek failed", "peer", peerID, "error", err)
	}
}

func (c *Controller) replyState(peerID string) {
	payload, err := Encode(KindStateReply, StateReplyData{
		CurrentTime: c.player.CurrentTime(),
		Paused:      c.player.Paused(),
		HasStarted:  c.player.HasStarted(),
	})
	if err != nil {
		c.log.Error("encode state-reply", "error", err)
		return
	}
	if err := c.sender.SendTo(peerID, payload); err != nil {
		c.log.Warn("send state-reply", "peer", peerID, "error", err)
	}
}

// applyStateReply reconciles our player with a snapshot of a peer's.
// The position and the paused state are handled separately, and pausing
// and resuming are distinct branches: a paused room must pause us even
// when our playhead already matches.
func (c *Controller) applyStateReply(peerID string, state StateReplyData) {
	if !state.HasStarted {
		// Nothing has happened in the room yet.
		return
	}
	if !c.player.HasStarted() {
		c.player.MarkStarted()
	}

	// Catch-up only ever seeks forward: a peer behind us is itself
	// catching up, and snapping back would fight it.
	if state.CurrentTime-c.player.CurrentTime() > driftTolerance {
		c.applySeek(peerID, state.CurrentTime)
	}

	switch {
	case state.Paused && !c.player.Paused():
		c.applyPause(peerID)
	case !state.Paused && c.player.Paused():
		c.applyPlay(peerID)
	}
}

func (c *Controller) broadcast(kind Kind, data any) {
	payload, err := Encode(kind, data)
	if err != nil {
		c.log.Error("encode sync message", "type", kind, "error", err)
		return
	}
	c.sender.Broadcast(payload)
}

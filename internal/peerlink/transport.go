package peerlink

import "github.com/avpeers/groupplay/internal/signaling"

// Link is one negotiated connection to a remote peer. Implementations
// are not safe for concurrent use; the orchestrator serializes access.
type Link interface {
	// CreateOffer produces and installs the local offer. Initiator only.
	CreateOffer() (signaling.SDP, error)

	// AcceptOffer installs the remote offer and returns the local
	// answer. Responder only.
	AcceptOffer(sdp signaling.SDP) (signaling.SDP, error)

	// AcceptAnswer installs the remote answer. Initiator only.
	AcceptAnswer(sdp signaling.SDP) error

	// AddCandidate feeds one remote ICE candidate; nil means the remote
	// side has no more.
	AddCandidate(c *signaling.Candidate) error

	// Send transmits one payload over the data channel. It fails until
	// the channel has opened.
	Send(payload []byte) error

	Close() error
}

// LinkCallbacks are invoked from the transport's own goroutines.
type LinkCallbacks struct {
	// OnCandidate fires for each locally gathered candidate, then once
	// with nil when gathering finishes.
	OnCandidate func(c *signaling.Candidate)

	// OnOpen fires when the data channel becomes usable.
	OnOpen func()

	// OnMessage fires per received payload.
	OnMessage func(payload []byte)

	// OnClose fires at most once when the link dies, whatever the
	// cause.
	OnClose func()
}

// Transport mints links. The production implementation is pion-backed;
// tests substitute an in-memory one.
type Transport interface {
	NewLink(remoteID string, initiator bool, cb LinkCallbacks) (Link, error)
}

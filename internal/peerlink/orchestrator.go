package peerlink

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/avpeers/groupplay/internal/signaling"
)

// pendingBuffer caps how many payloads queue for a peer whose channel
// has not opened yet. Beyond it, oldest-first is the wrong answer for
// sync traffic: later state supersedes earlier, so we drop the oldest.
const pendingBuffer = 16

// Signaler carries envelopes back to the relay.
type Signaler interface {
	Send(msg signaling.Message) error
}

// Events are the orchestrator's upward-facing callbacks. They fire from
// transport goroutines; handlers must not call back into the
// orchestrator while holding their own locks.
type Events struct {
	// OnPeerOpen fires when a data channel to peerID becomes usable.
	// initiator is true when we offered (the remote peer is the
	// newcomer), false when we answered (we are the newcomer).
	OnPeerOpen func(peerID string, initiator bool)

	// OnPeerReady fires once per peer when its channel is open AND the
	// remote side has signaled end-of-candidates. This is the moment a
	// state snapshot is worth requesting: negotiation input is
	// exhausted, so the link is as good as it will get.
	OnPeerReady func(peerID string, initiator bool)

	// OnPeerClosed fires at most once per peer after its link dies.
	OnPeerClosed func(peerID string)

	// OnMessage fires per payload received from peerID.
	OnMessage func(peerID string, payload []byte)
}

// Orchestrator tracks one link per remote peer and drives negotiation
// from the relay's envelopes. All exported methods are safe for
// concurrent use.
type Orchestrator struct {
	log       *slog.Logger
	transport Transport
	signaler  Signaler
	events    Events

	mu     sync.Mutex
	selfID string
	peers  map[string]*peer
	closed bool
}

type peer struct {
	id        string
	link      Link
	initiator bool
	open      bool
	eoc       bool // remote end-of-candidates received
	ready     bool
	pending   [][]byte
}

func NewOrchestrator(log *slog.Logger, transport Transport, signaler Signaler, events Events) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		log:       log.With("component", "peerlink"),
		transport: transport,
		signaler:  signaler,
		events:    events,
		peers:     make(map[string]*peer),
	}
}

// HandleEnvelope dispatches one relay message. Unknown and irrelevant
// tags are ignored; negotiation failures are logged and the affected
// link abandoned, never retried.
func (o *Orchestrator) HandleEnvelope(msg signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeJoinAck:
		data, err := msg.JoinAck()
		if err != nil {
			o.log.Warn("bad join-ack", "error", err)
			return
		}
		o.mu.Lock()
		o.selfID = data.ID
		o.mu.Unlock()
		o.log.Info("joined", "self", data.ID)
	case signaling.MessageTypePeerJoined:
		data, err := msg.PeerJoined()
		if err != nil {
			o.log.Warn("bad peer-joined", "error", err)
			return
		}
		o.handlePeerJoined(data.PeerID)
	case signaling.MessageTypeOffer:
		data, err := msg.Offer()
		if err != nil {
			o.log.Warn("bad offer", "error", err)
			return
		}
		o.handleOffer(data.From, data.SDP)
	case signaling.MessageTypeAnswer:
		data, err := msg.Answer()
		if err != nil {
			o.log.Warn("bad answer", "error", err)
			return
		}
		o.handleAnswer(data.From, data.SDP)
	case signaling.MessageTypeCandidate:
		data, err := msg.CandidateData()
		if err != nil {
			o.log.Warn("bad candidate", "error", err)
			return
		}
		o.handleCandidate(data.From, data.Candidate)
	case signaling.MessageTypePeerLeft:
		data, err := msg.PeerLeft()
		if err != nil {
			o.log.Warn("bad peer-left", "error", err)
			return
		}
		o.RemovePeer(data.PeerID)
	default:
		o.log.Debug("ignoring envelope", "type", msg.Type)
	}
}

// SelfID returns the relay-assigned id, or "" before the join-ack.
func (o *Orchestrator) SelfID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selfID
}

// handlePeerJoined reacts to a newcomer: existing members initiate.
func (o *Orchestrator) handlePeerJoined(peerID string) {
	p, err := o.addPeer(peerID, true)
	if err != nil {
		o.log.Warn("cannot link to new peer", "peer", peerID, "error", err)
		return
	}

	offer, err := p.link.CreateOffer()
	if err != nil {
		o.abandon(peerID, err)
		return
	}
	o.sendSignal(signaling.MessageTypeOffer, signaling.OfferData{TargetID: peerID, SDP: offer})
}

// handleOffer reacts to an existing member reaching out to us.
func (o *Orchestrator) handleOffer(from string, sdp signaling.SDP) {
	// A repeated offer means the remote side rebuilt its link; follow
	// suit rather than trying to renegotiate in place.
	o.RemovePeer(from)

	p, err := o.addPeer(from, false)
	if err != nil {
		o.log.Warn("cannot link to offering peer", "peer", from, "error", err)
		return
	}

	answer, err := p.link.AcceptOffer(sdp)
	if err != nil {
		o.abandon(from, err)
		return
	}
	o.sendSignal(signaling.MessageTypeAnswer, signaling.AnswerData{TargetID: from, SDP: answer})
}

func (o *Orchestrator) handleAnswer(from string, sdp signaling.SDP) {
	p := o.lookup(from)
	if p == nil {
		o.log.Debug("answer from unknown peer", "peer", from)
		return
	}
	if err := p.link.AcceptAnswer(sdp); err != nil {
		o.abandon(from, err)
	}
}

func (o *Orchestrator) handleCandidate(from string, c *signaling.Candidate) {
	p := o.lookup(from)
	if p == nil {
		o.log.Debug("candidate from unknown peer", "peer", from)
		return
	}
	if err := p.link.AddCandidate(c); err != nil {
		// A single bad candidate is not fatal; others may connect us.
		o.log.Warn("add candidate failed", "peer", from, "error", err)
	}
	if c == nil {
		o.mu.Lock()
		p.eoc = true
		o.mu.Unlock()
		o.maybeReady(from)
	}
}

func (o *Orchestrator) addPeer(peerID string, initiator bool) (*peer, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator closed")
	}
	if existing := o.peers[peerID]; existing != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("peer %s already linked", peerID)
	}
	p := &peer{id: peerID, initiator: initiator}
	o.peers[peerID] = p
	o.mu.Unlock()

	link, err := o.transport.NewLink(peerID, initiator, LinkCallbacks{
		OnCandidate: func(c *signaling.Candidate) {
			var cand *signaling.Candidate
			if c != nil {
				copied := *c
				cand = &copied
			}
			o.sendSignal(signaling.MessageTypeCandidate, signaling.CandidateData{
				TargetID:  peerID,
				Candidate: cand,
			})
		},
		OnOpen:  func() { o.peerOpened(peerID) },
		OnClose: func() { o.RemovePeer(peerID) },
		OnMessage: func(payload []byte) {
			if o.events.OnMessage != nil {
				o.events.OnMessage(peerID, payload)
			}
		},
	})
	if err != nil {
		o.mu.Lock()
		delete(o.peers, peerID)
		o.mu.Unlock()
		return nil, err
	}

	o.mu.Lock()
	p.link = link
	o.mu.Unlock()
	return p, nil
}

// peerOpened flushes the pending queue exactly once and surfaces the
// peer upward.
func (o *Orchestrator) peerOpened(peerID string) {
	o.mu.Lock()
	p := o.peers[peerID]
	if p == nil || p.open {
		o.mu.Unlock()
		return
	}
	p.open = true
	pending := p.pending
	p.pending = nil
	link, initiator := p.link, p.initiator
	o.mu.Unlock()

	for _, payload := range pending {
		if err := link.Send(payload); err != nil {
			o.log.Warn("flush failed", "peer", peerID, "error", err)
			break
		}
	}
	o.log.Info("peer channel open", "peer", peerID, "initiator", initiator)
	if o.events.OnPeerOpen != nil {
		o.events.OnPeerOpen(peerID, initiator)
	}
	o.maybeReady(peerID)
}

// maybeReady fires OnPeerReady once the channel is open and the remote
// candidate stream has ended, whichever happens last.
func (o *Orchestrator) maybeReady(peerID string) {
	o.mu.Lock()
	p := o.peers[peerID]
	if p == nil || !p.open || !p.eoc || p.ready {
		o.mu.Unlock()
		return
	}
	p.ready = true
	initiator := p.initiator
	o.mu.Unlock()

	if o.events.OnPeerReady != nil {
		o.events.OnPeerReady(peerID, initiator)
	}
}

func (o *Orchestrator) lookup(peerID string) *peer {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.peers[peerID]
	if p == nil || p.link == nil {
		return nil
	}
	return p
}

func (o *Orchestrator) abandon(peerID string, err error) {
	o.log.Warn("negotiation failed, abandoning peer", "peer", peerID, "error", err)
	o.RemovePeer(peerID)
}

// RemovePeer tears down the link to peerID. Idempotent.
func (o *Orchestrator) RemovePeer(peerID string) {
	o.mu.Lock()
	p := o.peers[peerID]
	delete(o.peers, peerID)
	o.mu.Unlock()
	if p == nil {
		return
	}

	if p.link != nil {
		_ = p.link.Close()
	}
	o.log.Info("peer removed", "peer", peerID)
	if o.events.OnPeerClosed != nil {
		o.events.OnPeerClosed(peerID)
	}
}

// Broadcast sends payload to every linked peer. Channels that have not
// opened yet queue it; the queue flushes once on open.
func (o *Orchestrator) Broadcast(payload []byte) {
	o.mu.Lock()
	targets := make([]*peer, 0, len(o.peers))
	for _, p := range o.peers {
		if p.open {
			targets = append(targets, p)
			continue
		}
		p.pending = append(p.pending, payload)
		if len(p.pending) > pendingBuffer {
			p.pending = p.pending[1:]
		}
	}
	o.mu.Unlock()

	for _, p := range targets {
		if err := p.link.Send(payload); err != nil {
			o.log.Warn("send failed", "peer", p.id, "error", err)
		}
	}
}

// SendTo sends payload to one peer, queueing if its channel is still
// opening.
func (o *Orchestrator) SendTo(peerID string, payload []byte) error {
	o.mu.Lock()
	p := o.peers[peerID]
	if p == nil {
		o.mu.Unlock()
		return fmt.Errorf("no link to peer %s", peerID)
	}
	if !p.open {
		p.pending = append(p.pending, payload)
		if len(p.pending) > pendingBuffer {
			p.pending = p.pending[1:]
		}
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()
	return p.link.Send(payload)
}

// Peers lists currently linked peer ids, open or not.
func (o *Orchestrator) Peers() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.peers))
	for id := range o.peers {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down every link. Idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	peers := make([]*peer, 0, len(o.peers))
	for _, p := range o.peers {
		peers = append(peers, p)
	}
	o.peers = make(map[string]*peer)
	o.mu.Unlock()

	for _, p := range peers {
		if p.link != nil {
			_ = p.link.Close()
		}
	}
}

func (o *Orchestrator) sendSignal(t signaling.MessageType, data any) {
	msg, err := signaling.NewMessage(t, data)
	if err != nil {
		o.log.Error("encode signal", "type", t, "error", err)
		return
	}
	if err := o.signaler.Send(msg); err != nil {
		o.log.Warn("send signal", "type", t, "error", err)
	}
}

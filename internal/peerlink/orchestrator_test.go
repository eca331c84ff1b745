package peerlink

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/avpeers/groupplay/internal/signaling"
)

type fakeSignaler struct {
	mu   sync.Mutex
	msgs []signaling.Message
}

func (s *fakeSignaler) Send(msg signaling.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeSignaler) sent() []signaling.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]signaling.Message(nil), s.msgs...)
}

type fakeTransport struct {
	mu        sync.Mutex
	links     map[string]*fakeLink
	failOffer bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{links: make(map[string]*fakeLink)}
}

func (t *fakeTransport) NewLink(remoteID string, initiator bool, cb LinkCallbacks) (Link, error) {
	l := &fakeLink{cb: cb, initiator: initiator, failOffer: t.failOffer}
	t.mu.Lock()
	t.links[remoteID] = l
	t.mu.Unlock()
	return l, nil
}

func (t *fakeTransport) link(remoteID string) *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[remoteID]
}

type fakeLink struct {
	cb        LinkCallbacks
	initiator bool
	failOffer bool

	mu       sync.Mutex
	offered  bool
	answered bool
	sent     [][]byte
	closed   bool
}

func (l *fakeLink) CreateOffer() (signaling.SDP, error) {
	if l.failOffer {
		return signaling.SDP{}, errors.New("induced offer failure")
	}
	l.mu.Lock()
	l.offered = true
	l.mu.Unlock()
	return signaling.SDP{Type: "offer", SDP: "v=0 fake-offer"}, nil
}

func (l *fakeLink) AcceptOffer(signaling.SDP) (signaling.SDP, error) {
	l.mu.Lock()
	l.answered = true
	l.mu.Unlock()
	return signaling.SDP{Type: "answer", SDP: "v=0 fake-answer"}, nil
}

func (l *fakeLink) AcceptAnswer(signaling.SDP) error { return nil }

func (l *fakeLink) AddCandidate(*signaling.Candidate) error { return nil }

func (l *fakeLink) Send(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("link closed")
	}
	l.sent = append(l.sent, payload)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) sentPayloads() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envelope(t *testing.T, typ signaling.MessageType, data any) signaling.Message {
	t.Helper()
	msg, err := signaling.NewMessage(typ, data)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestOrchestrator_InitiatesOnPeerJoined(t *testing.T) {
	transport := newFakeTransport()
	sig := &fakeSignaler{}
	o := NewOrchestrator(discardLogger(), transport, sig, Events{})

	o.HandleEnvelope(envelope(t, signaling.MessageTypeJoinAck, signaling.JoinAckData{ID: "me"}))
	if o.SelfID() != "me" {
		t.Fatalf("SelfID=%q", o.SelfID())
	}

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "newcomer"}))

	link := transport.link("newcomer")
	if link == nil || !link.initiator {
		t.Fatalf("no initiator link created")
	}
	msgs := sig.sent()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1 offer", len(msgs))
	}
	offer, err := msgs[0].Offer()
	if err != nil {
		t.Fatalf("expected offer, got %s: %v", msgs[0].Type, err)
	}
	if offer.TargetID != "newcomer" {
		t.Errorf("targetId=%q", offer.TargetID)
	}
}

func TestOrchestrator_AnswersOffer(t *testing.T) {
	transport := newFakeTransport()
	sig := &fakeSignaler{}
	o := NewOrchestrator(discardLogger(), transport, sig, Events{})

	o.HandleEnvelope(envelope(t, signaling.MessageTypeOffer, signaling.OfferData{
		From: "elder",
		SDP:  signaling.SDP{Type: "offer", SDP: "v=0"},
	}))

	link := transport.link("elder")
	if link == nil || link.initiator {
		t.Fatalf("no responder link created")
	}
	msgs := sig.sent()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1 answer", len(msgs))
	}
	answer, err := msgs[0].Answer()
	if err != nil {
		t.Fatalf("expected answer, got %s: %v", msgs[0].Type, err)
	}
	if answer.TargetID != "elder" {
		t.Errorf("targetId=%q", answer.TargetID)
	}
}

func TestOrchestrator_TricklesCandidatesIncludingNull(t *testing.T) {
	transport := newFakeTransport()
	sig := &fakeSignaler{}
	o := NewOrchestrator(discardLogger(), transport, sig, Events{})

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "p"}))
	link := transport.link("p")

	link.cb.OnCandidate(&signaling.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	link.cb.OnCandidate(nil)

	msgs := sig.sent()
	if len(msgs) != 3 { // offer + 2 candidates
		t.Fatalf("sent %d messages, want 3", len(msgs))
	}
	first, err := msgs[1].CandidateData()
	if err != nil {
		t.Fatalf("expected candidate: %v", err)
	}
	if first.Candidate == nil || first.TargetID != "p" {
		t.Errorf("first candidate=%+v", first)
	}
	last, err := msgs[2].CandidateData()
	if err != nil {
		t.Fatalf("expected candidate: %v", err)
	}
	if last.Candidate != nil {
		t.Errorf("final candidate should be the nil marker, got %+v", last.Candidate)
	}
}

func TestOrchestrator_PendingFlushesOnceOnOpen(t *testing.T) {
	transport := newFakeTransport()
	sig := &fakeSignaler{}
	var opened []string
	o := NewOrchestrator(discardLogger(), transport, sig, Events{
		OnPeerOpen: func(peerID string, initiator bool) {
			opened = append(opened, fmt.Sprintf("%s/%v", peerID, initiator))
		},
	})

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "p"}))
	link := transport.link("p")

	o.Broadcast([]byte("one"))
	o.Broadcast([]byte("two"))
	if got := link.sentPayloads(); len(got) != 0 {
		t.Fatalf("payloads sent before channel open: %d", len(got))
	}

	link.cb.OnOpen()
	link.cb.OnOpen() // duplicate open must not replay the queue

	got := link.sentPayloads()
	if len(got) != 2 || !bytes.Equal(got[0], []byte("one")) || !bytes.Equal(got[1], []byte("two")) {
		t.Fatalf("flushed=%q", got)
	}
	if len(opened) != 1 || opened[0] != "p/true" {
		t.Fatalf("opened=%v", opened)
	}

	o.Broadcast([]byte("three"))
	if got := link.sentPayloads(); len(got) != 3 {
		t.Fatalf("post-open broadcast not delivered: %q", got)
	}
}

func TestOrchestrator_PendingDropsOldestBeyondCap(t *testing.T) {
	transport := newFakeTransport()
	o := NewOrchestrator(discardLogger(), transport, &fakeSignaler{}, Events{})

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "p"}))
	link := transport.link("p")

	for i := 0; i < pendingBuffer+5; i++ {
		o.Broadcast([]byte(fmt.Sprintf("m%02d", i)))
	}
	link.cb.OnOpen()

	got := link.sentPayloads()
	if len(got) != pendingBuffer {
		t.Fatalf("flushed %d, want %d", len(got), pendingBuffer)
	}
	if !bytes.Equal(got[0], []byte("m05")) {
		t.Errorf("oldest surviving payload=%q, want m05", got[0])
	}
}

func TestOrchestrator_ReadyNeedsOpenAndEndOfCandidates(t *testing.T) {
	transport := newFakeTransport()
	var ready []string
	o := NewOrchestrator(discardLogger(), transport, &fakeSignaler{}, Events{
		OnPeerReady: func(peerID string, initiator bool) {
			ready = append(ready, fmt.Sprintf("%s/%v", peerID, initiator))
		},
	})

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "p"}))
	link := transport.link("p")

	o.HandleEnvelope(envelope(t, signaling.MessageTypeCandidate, signaling.CandidateData{From: "p"}))
	if len(ready) != 0 {
		t.Fatalf("ready before channel open: %v", ready)
	}

	link.cb.OnOpen()
	if len(ready) != 1 || ready[0] != "p/true" {
		t.Fatalf("ready=%v, want [p/true]", ready)
	}

	// Neither a repeated null candidate nor a duplicate open refires.
	o.HandleEnvelope(envelope(t, signaling.MessageTypeCandidate, signaling.CandidateData{From: "p"}))
	link.cb.OnOpen()
	if len(ready) != 1 {
		t.Fatalf("ready refired: %v", ready)
	}
}

func TestOrchestrator_ReadyWhenCandidatesEndAfterOpen(t *testing.T) {
	transport := newFakeTransport()
	var ready []string
	o := NewOrchestrator(discardLogger(), transport, &fakeSignaler{}, Events{
		OnPeerReady: func(peerID string, initiator bool) {
			ready = append(ready, fmt.Sprintf("%s/%v", peerID, initiator))
		},
	})

	o.HandleEnvelope(envelope(t, signaling.MessageTypeOffer, signaling.OfferData{
		From: "elder",
		SDP:  signaling.SDP{Type: "offer", SDP: "v=0"},
	}))
	link := transport.link("elder")

	link.cb.OnOpen()
	if len(ready) != 0 {
		t.Fatalf("ready before end-of-candidates: %v", ready)
	}

	o.HandleEnvelope(envelope(t, signaling.MessageTypeCandidate, signaling.CandidateData{From: "elder"}))
	if len(ready) != 1 || ready[0] != "elder/false" {
		t.Fatalf("ready=%v, want [elder/false]", ready)
	}
}

func TestOrchestrator_PeerLeftTearsDown(t *testing.T) {
	transport := newFakeTransport()
	var closed []string
	o := NewOrchestrator(discardLogger(), transport, &fakeSignaler{}, Events{
		OnPeerClosed: func(peerID string) { closed = append(closed, peerID) },
	})

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "p"}))
	link := transport.link("p")

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerLeft, signaling.PeerLeftData{PeerID: "p"}))
	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerLeft, signaling.PeerLeftData{PeerID: "p"}))

	if !link.closed {
		t.Errorf("link not closed")
	}
	if len(closed) != 1 || closed[0] != "p" {
		t.Errorf("closed=%v, want one notification", closed)
	}
	if len(o.Peers()) != 0 {
		t.Errorf("peers=%v, want none", o.Peers())
	}
}

func TestOrchestrator_NegotiationFailureAbandons(t *testing.T) {
	transport := newFakeTransport()
	transport.failOffer = true
	o := NewOrchestrator(discardLogger(), transport, &fakeSignaler{}, Events{})

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "p"}))

	if len(o.Peers()) != 0 {
		t.Fatalf("failed peer still tracked: %v", o.Peers())
	}
	if link := transport.link("p"); link == nil || !link.closed {
		t.Errorf("abandoned link not closed")
	}
}

func TestOrchestrator_IgnoresStrayAnswersAndCandidates(t *testing.T) {
	transport := newFakeTransport()
	o := NewOrchestrator(discardLogger(), transport, &fakeSignaler{}, Events{})

	o.HandleEnvelope(envelope(t, signaling.MessageTypeAnswer, signaling.AnswerData{
		From: "ghost", SDP: signaling.SDP{Type: "answer", SDP: "v=0"},
	}))
	o.HandleEnvelope(envelope(t, signaling.MessageTypeCandidate, signaling.CandidateData{From: "ghost"}))

	if len(o.Peers()) != 0 {
		t.Errorf("stray signaling created peers: %v", o.Peers())
	}
}

func TestOrchestrator_MessagesSurfaceWithPeerID(t *testing.T) {
	transport := newFakeTransport()
	var from string
	var got []byte
	o := NewOrchestrator(discardLogger(), transport, &fakeSignaler{}, Events{
		OnMessage: func(peerID string, payload []byte) { from, got = peerID, payload },
	})

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "p"}))
	transport.link("p").cb.OnMessage([]byte("payload"))

	if from != "p" || !bytes.Equal(got, []byte("payload")) {
		t.Errorf("from=%q payload=%q", from, got)
	}
}

func TestOrchestrator_CloseIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	o := NewOrchestrator(discardLogger(), transport, &fakeSignaler{}, Events{})

	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "p"}))
	link := transport.link("p")

	o.Close()
	o.Close()
	if !link.closed {
		t.Errorf("link not closed")
	}
	if len(o.Peers()) != 0 {
		t.Errorf("peers=%v", o.Peers())
	}

	// After close, new peers are refused.
	o.HandleEnvelope(envelope(t, signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: "q"}))
	if len(o.Peers()) != 0 {
		t.Errorf("peer added after close")
	}
}

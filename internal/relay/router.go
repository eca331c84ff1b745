package relay

import (
	"errors"
	"log/slog"

	"github.com/avpeers/groupplay/internal/metrics"
	"github.com/avpeers/groupplay/internal/signaling"
)

// Router validates inbound envelopes and turns them into enqueued
// outbound frames. Every failure mode is log-and-drop: a bad message
// never closes the connection that sent it.
type Router struct {
	log      *slog.Logger
	registry *Registry
	metrics  *metrics.Metrics
}

func NewRouter(log *slog.Logger, registry *Registry, m *metrics.Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:      log.With("component", "router"),
		registry: registry,
		metrics:  m,
	}
}

// HandleMessage processes one raw frame from s.
func (r *Router) HandleMessage(s *Session, raw []byte) {
	msg, err := signaling.Parse(raw)
	if err != nil {
		if errors.Is(err, signaling.ErrUnknownType) {
			// Forward compatibility: newer clients may speak tags we
			// don't know. Ignore them.
			r.log.Debug("ignoring unknown message type", "session", s.ID, "type", msg.Type)
			return
		}
		r.drop(s, metrics.DropReasonMalformedMessage, err)
		return
	}

	switch msg.Type {
	case signaling.MessageTypeJoin:
		r.handleJoin(s, msg)
	case signaling.MessageTypeOffer:
		data, err := msg.Offer()
		if err != nil {
			r.drop(s, metrics.DropReasonMalformedMessage, err)
			return
		}
		target := data.TargetID
		data.From, data.TargetID = s.ID, ""
		r.routeEncoded(s, target, signaling.MessageTypeOffer, data)
	case signaling.MessageTypeAnswer:
		data, err := msg.Answer()
		if err != nil {
			r.drop(s, metrics.DropReasonMalformedMessage, err)
			return
		}
		target := data.TargetID
		data.From, data.TargetID = s.ID, ""
		r.routeEncoded(s, target, signaling.MessageTypeAnswer, data)
	case signaling.MessageTypeCandidate:
		data, err := msg.CandidateData()
		if err != nil {
			r.drop(s, metrics.DropReasonMalformedMessage, err)
			return
		}
		target := data.TargetID
		data.From, data.TargetID = s.ID, ""
		r.routeEncoded(s, target, signaling.MessageTypeCandidate, data)
	default:
		// join-ack, peer-joined, peer-left are relay-originated; a
		// client sending them is misbehaving.
		r.drop(s, metrics.DropReasonMalformedMessage, errors.New("client sent relay-only message type"))
	}
}

func (r *Router) handleJoin(s *Session, msg signaling.Message) {
	data, err := msg.Join()
	if err != nil {
		r.drop(s, metrics.DropReasonMalformedMessage, err)
		return
	}

	ack := mustEncode(signaling.MessageTypeJoinAck, signaling.JoinAckData{ID: s.ID})
	joined := mustEncode(signaling.MessageTypePeerJoined, signaling.PeerJoinedData{PeerID: s.ID})

	created, err := r.registry.Join(data.RoomKey, s, func(prior []*Session) {
		if !s.Enqueue(ack) {
			r.metrics.Inc(metrics.DropReasonSendQueueFull)
		}
		for _, member := range prior {
			if !member.Enqueue(joined) {
				r.metrics.Inc(metrics.DropReasonSendQueueFull)
			}
		}
	})
	switch {
	case errors.Is(err, ErrAlreadyJoined):
		// Re-ack so a confused client can still resynchronize, but
		// count it: something is wrong on their side.
		r.metrics.Inc(metrics.DropReasonDuplicateJoin)
		r.log.Warn("duplicate join", "session", s.ID, "room", s.RoomKey())
		if !s.Enqueue(ack) {
			r.metrics.Inc(metrics.DropReasonSendQueueFull)
		}
		return
	case errors.Is(err, ErrRoomFull):
		r.drop(s, metrics.DropReasonRoomFull, err)
		return
	case err != nil:
		r.drop(s, metrics.DropReasonMalformedMessage, err)
		return
	}

	if created {
		r.metrics.Inc(metrics.RoomCreated)
	}
	r.log.Info("session joined room", "session", s.ID, "room", data.RoomKey)
}

// HandleClose removes s from its room and tells the survivors.
func (r *Router) HandleClose(s *Session) {
	left := mustEncode(signaling.MessageTypePeerLeft, signaling.PeerLeftData{PeerID: s.ID})

	room := s.RoomKey()
	deleted := r.registry.Leave(s, func(remaining []*Session) {
		for _, member := range remaining {
			if !member.Enqueue(left) {
				r.metrics.Inc(metrics.DropReasonSendQueueFull)
			}
		}
	})
	if deleted {
		r.metrics.Inc(metrics.RoomDeleted)
	}
	if room != "" {
		r.log.Info("session left room", "session", s.ID, "room", room)
	}
}

func (r *Router) routeEncoded(s *Session, target string, t signaling.MessageType, data any) {
	if target == "" {
		r.drop(s, metrics.DropReasonMalformedMessage, errors.New("missing targetId"))
		return
	}

	frame, err := encode(t, data)
	if err != nil {
		r.drop(s, metrics.DropReasonMalformedMessage, err)
		return
	}

	switch err := r.registry.Route(s, target, frame); {
	case err == nil:
		r.metrics.Inc(metrics.MessageRouted)
	case errors.Is(err, ErrNotJoined):
		r.drop(s, metrics.DropReasonNotJoined, err)
	case errors.Is(err, ErrUnknownTarget):
		// The target likely just left; silent from the sender's point
		// of view, but counted.
		r.metrics.Inc(metrics.DropReasonUnknownTarget)
		r.log.Debug("dropping message for unknown target", "session", s.ID, "target", target, "type", t)
	case errors.Is(err, errSendQueueFull):
		r.metrics.Inc(metrics.DropReasonSendQueueFull)
		r.log.Warn("dropping message, target queue full", "session", s.ID, "target", target, "type", t)
	default:
		r.drop(s, metrics.DropReasonMalformedMessage, err)
	}
}

func (r *Router) drop(s *Session, reason string, err error) {
	r.metrics.Inc(reason)
	r.log.Warn("dropping message", "session", s.ID, "reason", reason, "error", err)
}

func encode(t signaling.MessageType, data any) ([]byte, error) {
	msg, err := signaling.NewMessage(t, data)
	if err != nil {
		return nil, err
	}
	return msg.Encode()
}

func mustEncode(t signaling.MessageType, data any) []byte {
	frame, err := encode(t, data)
	if err != nil {
		panic(err)
	}
	return frame
}

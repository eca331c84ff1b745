package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	// Client -> relay.
	MessageTypeJoin MessageType = "join"

	// Relay -> client.
	MessageTypeJoinAck    MessageType = "join-ack"
	MessageTypePeerJoined MessageType = "peer-joined"
	MessageTypePeerLeft   MessageType = "peer-left"

	// Routed between peers (targetId inbound, from outbound).
	MessageTypeOffer     MessageType = "offer"
	MessageTypeAnswer    MessageType = "answer"
	MessageTypeCandidate MessageType = "candidate"
)

// ErrUnknownType marks envelopes whose type tag is not in the catalog.
// Receivers ignore these rather than treating them as malformed.
var ErrUnknownType = errors.New("signaling: unknown message type")

// Message is the wire envelope. Data holds the tag-specific payload.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinData struct {
	RoomKey string `json:"roomKey"`
}

type JoinAckData struct {
	ID string `json:"id"`
}

type PeerJoinedData struct {
	PeerID string `json:"peerId"`
}

type PeerLeftData struct {
	PeerID string `json:"peerId"`
}

// SDP is a minimal JSON-friendly session description, shaped like the
// browser's RTCSessionDescription.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate mirrors webrtc.ICECandidateInit / RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// OfferData carries an SDP offer. TargetID is set by the sender; the
// relay replaces it with From (the sender's id) before forwarding.
type OfferData struct {
	TargetID string `json:"targetId,omitempty"`
	From     string `json:"from,omitempty"`
	SDP      SDP    `json:"sdp"`
}

type AnswerData struct {
	TargetID string `json:"targetId,omitempty"`
	From     string `json:"from,omitempty"`
	SDP      SDP    `json:"sdp"`
}

// CandidateData carries one trickle-ICE candidate. A null Candidate is
// the canonical end-of-candidates marker and is forwarded, never
// interpreted, by the relay.
type CandidateData struct {
	TargetID  string     `json:"targetId,omitempty"`
	From      string     `json:"from,omitempty"`
	Candidate *Candidate `json:"candidate"`
}

// NewMessage builds an envelope around a payload struct.
func NewMessage(t MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Data: raw}, nil
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Parse decodes an envelope. Unknown type tags return ErrUnknownType so
// callers can distinguish "ignore" from "malformed"; payloads are not
// validated here, the per-tag accessors do that.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}

	switch msg.Type {
	case MessageTypeJoin, MessageTypeJoinAck, MessageTypePeerJoined,
		MessageTypePeerLeft, MessageTypeOffer, MessageTypeAnswer,
		MessageTypeCandidate:
		return msg, nil
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

func (m Message) Join() (JoinData, error) {
	var d JoinData
	if err := m.decodeData(MessageTypeJoin, &d); err != nil {
		return JoinData{}, err
	}
	if d.RoomKey == "" {
		return JoinData{}, fmt.Errorf("join message missing roomKey")
	}
	return d, nil
}

func (m Message) JoinAck() (JoinAckData, error) {
	var d JoinAckData
	if err := m.decodeData(MessageTypeJoinAck, &d); err != nil {
		return JoinAckData{}, err
	}
	if d.ID == "" {
		return JoinAckData{}, fmt.Errorf("join-ack message missing id")
	}
	return d, nil
}

func (m Message) PeerJoined() (PeerJoinedData, error) {
	var d PeerJoinedData
	if err := m.decodeData(MessageTypePeerJoined, &d); err != nil {
		return PeerJoinedData{}, err
	}
	if d.PeerID == "" {
		return PeerJoinedData{}, fmt.Errorf("peer-joined message missing peerId")
	}
	return d, nil
}

func (m Message) PeerLeft() (PeerLeftData, error) {
	var d PeerLeftData
	if err := m.decodeData(MessageTypePeerLeft, &d); err != nil {
		return PeerLeftData{}, err
	}
	if d.PeerID == "" {
		return PeerLeftData{}, fmt.Errorf("peer-left message missing peerId")
	}
	return d, nil
}

func (m Message) Offer() (OfferData, error) {
	var d OfferData
	if err := m.decodeData(MessageTypeOffer, &d); err != nil {
		return OfferData{}, err
	}
	if d.SDP.SDP == "" {
		return OfferData{}, fmt.Errorf("offer message missing sdp")
	}
	if d.SDP.Type != "offer" {
		return OfferData{}, fmt.Errorf("offer message has sdp.type=%q", d.SDP.Type)
	}
	return d, nil
}

func (m Message) Answer() (AnswerData, error) {
	var d AnswerData
	if err := m.decodeData(MessageTypeAnswer, &d); err != nil {
		return AnswerData{}, err
	}
	if d.SDP.SDP == "" {
		return AnswerData{}, fmt.Errorf("answer message missing sdp")
	}
	if d.SDP.Type != "answer" {
		return AnswerData{}, fmt.Errorf("answer message has sdp.type=%q", d.SDP.Type)
	}
	return d, nil
}

// CandidateData never fails on a null candidate: that is a legal
// end-of-candidates payload.
func (m Message) CandidateData() (CandidateData, error) {
	var d CandidateData
	if err := m.decodeData(MessageTypeCandidate, &d); err != nil {
		return CandidateData{}, err
	}
	return d, nil
}

func (m Message) decodeData(want MessageType, v any) error {
	if m.Type != want {
		return fmt.Errorf("message type %q, want %q", m.Type, want)
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message missing data", want)
	}
	dec := json.NewDecoder(bytes.NewReader(m.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s message: %w", want, err)
	}
	return nil
}

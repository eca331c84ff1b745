package syncproto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind tags a sync envelope.
type Kind string

const (
	KindPlay         Kind = "control-play"
	KindPause        Kind = "control-pause"
	KindSeek         Kind = "control-seek"
	KindStateRequest Kind = "state-request"
	KindStateReply   Kind = "state-reply"
)

// Envelope is the data-channel wire format, the same {type, data} shape
// the signaling channel uses.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type SeekData struct {
	CurrentTime float64 `json:"currentTime"`
}

type StateRequestData struct {
	RequesterID string `json:"requesterId,omitempty"`
}

// StateReplyData is a snapshot of the replying member's player.
// HasStarted distinguishes "paused at 0 before anyone pressed play"
// from a deliberate pause.
type StateReplyData struct {
	CurrentTime float64 `json:"currentTime"`
	Paused      bool    `json:"paused"`
	HasStarted  bool    `json:"hasStarted"`
}

func Encode(kind Kind, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: kind, Data: raw})
}

func ParseEnvelope(payload []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) Seek() (SeekData, error) {
	var d SeekData
	return d, e.decodeData(KindSeek, &d)
}

func (e Envelope) StateRequest() (StateRequestData, error) {
	var d StateRequestData
	if len(e.Data) == 0 {
		// The request carries no required fields.
		return d, nil
	}
	return d, e.decodeData(KindStateRequest, &d)
}

func (e Envelope) StateReply() (StateReplyData, error) {
	var d StateReplyData
	return d, e.decodeData(KindStateReply, &d)
}

func (e Envelope) decodeData(want Kind, v any) error {
	if e.Type != want {
		return fmt.Errorf("envelope type %q, want %q", e.Type, want)
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope missing data", want)
	}
	dec := json.NewDecoder(bytes.NewReader(e.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s envelope: %w", want, err)
	}
	return nil
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every DecodeError
var ErrMalformed = errors.New("malformed message")

// DecodeError reports an inbound message that could not be decoded. The
// message should be dropped; later messages are unaffected.
type DecodeError struct {
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode envelope: %v", e.Err)
	}
	return fmt.Sprintf("decode %s payload: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}

// Inbound is a decoded server message. Exactly one of Snapshot or Hand is set
// for state and player_hand messages; Text carries info/error payloads.
type Inbound struct {
	Type     MessageType
	Snapshot *GameSnapshot
	Hand     []Card
	Text     string
}

// Decode parses one raw inbound frame. Unknown types decode successfully with
// only Type set so callers can ignore them.
func Decode(data []byte) (*Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: errors.New("missing type")}
	}

	in := &Inbound{Type: env.Type}

	switch env.Type {
	case TypeState:
		if isNull(env.Payload) {
			return nil, &DecodeError{Type: env.Type, Err: errors.New("missing payload")}
		}
		var snap GameSnapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			return nil, &DecodeError{Type: env.Type, Err: err}
		}
		in.Snapshot = &snap

	case TypePlayerHand:
		if isNull(env.Payload) {
			return nil, &DecodeError{Type: env.Type, Err: errors.New("missing payload")}
		}
		var hand []Card
		if err := json.Unmarshal(env.Payload, &hand); err != nil {
			return nil, &DecodeError{Type: env.Type, Err: err}
		}
		in.Hand = hand

	case TypeInfo, TypeError:
		in.Text = payloadText(env.Payload)
	}

	return in, nil
}

// NewEnvelope marshals payload into an envelope of the given type
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data}, nil
}

// Encode marshals an envelope for the wire
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// payloadText renders info/error payloads, which are usually bare strings
func payloadText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

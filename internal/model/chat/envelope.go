package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EnvelopeType 跨标签页广播的消息类型。
type EnvelopeType string

const (
	EnvelopeMessage  EnvelopeType = "message"
	EnvelopePresence EnvelopeType = "presence"
)

// ErrInvalidEnvelope is returned when a broadcast payload cannot be used.
var ErrInvalidEnvelope = errors.New("invalid broadcast envelope")

// Envelope is what one tab posts to the others on the shared channel.
type Envelope struct {
	Type     EnvelopeType `json:"type"`
	Message  *Message     `json:"message,omitempty"`
	Presence *Presence    `json:"presence,omitempty"`
}

// MessageEnvelope wraps a new chat message.
func MessageEnvelope(msg Message) Envelope {
	return Envelope{Type: EnvelopeMessage, Message: &msg}
}

// PresenceEnvelope wraps a presence heartbeat.
func PresenceEnvelope(p Presence) Envelope {
	return Envelope{Type: EnvelopePresence, Presence: &p}
}

// DecodeEnvelope parses and validates a broadcast payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	switch env.Type {
	case EnvelopeMessage:
		if env.Message == nil || env.Message.ID == "" {
			return Envelope{}, fmt.Errorf("%w: message payload without id", ErrInvalidEnvelope)
		}
	case EnvelopePresence:
		if env.Presence == nil || env.Presence.ID == "" {
			return Envelope{}, fmt.Errorf("%w: presence payload without id", ErrInvalidEnvelope)
		}
		if !env.Presence.Status.Valid() {
			return Envelope{}, fmt.Errorf("%w: presence status %q", ErrInvalidEnvelope, env.Presence.Status)
		}
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEnvelope, env.Type)
	}
	return env, nil
}

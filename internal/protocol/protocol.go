// Package protocol defines the wire-level contract for live-chat channels,
// independent of which transport carries it.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mchatly/livechat/internal/domain"
)

// ChannelPurpose prefixes every channel key. Exactly one logical channel
// exists per visitor session.
const ChannelPurpose = "live-chat"

type Type string

const (
	TypeMessage  Type = "message"
	TypePresence Type = "presence"

	// Control frames synthesized by the relay when native presence is not
	// available to the peer.
	TypeAdminJoined Type = "admin_joined"
	TypeAdminLeft   Type = "admin_left"
)

// Envelope is a transient wire object. Durability is always the caller's job.
type Envelope struct {
	Type Type        `json:"type"`
	Role domain.Role `json:"role,omitempty"`
	Text string      `json:"text,omitempty"`
	// Timestamp is server-stamped unix milliseconds; zero on control frames.
	Timestamp int64 `json:"timestamp,omitempty"`
}

func NewMessage(role domain.Role, text string, ts time.Time) Envelope {
	return Envelope{
		Type:      TypeMessage,
		Role:      role,
		Text:      text,
		Timestamp: ts.UnixMilli(),
	}
}

func AdminJoined() Envelope { return Envelope{Type: TypeAdminJoined} }
func AdminLeft() Envelope   { return Envelope{Type: TypeAdminLeft} }

// PresenceEnter/PresenceLeave announce an admin party entering or leaving a
// channel's presence set for consumers without native presence.
func PresenceEnter(role domain.Role) Envelope {
	return Envelope{Type: TypePresence, Role: role, Text: "enter"}
}

func PresenceLeave(role domain.Role) Envelope {
	return Envelope{Type: TypePresence, Role: role, Text: "leave"}
}

func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}

// Inbound is the only frame a connected party may send: chat text.
type Inbound struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

// ParseInbound validates a raw client frame. Callers drop frames that fail
// here without terminating the connection.
func ParseInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode inbound frame: %w", err)
	}
	if in.Type != TypeMessage {
		return nil, fmt.Errorf("unexpected inbound frame type %q", in.Type)
	}
	if in.Text == "" {
		return nil, fmt.Errorf("inbound message has empty text")
	}
	return &in, nil
}

// ChannelKey serializes the (chatbot, session, purpose) triple into the
// single string key both backends address channels by.
func ChannelKey(chatbotID, sessionID string) string {
	return ChannelPurpose + ":" + chatbotID + ":" + sessionID
}

func ParseChannelKey(key string) (chatbotID, sessionID string, err error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != ChannelPurpose || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed channel key %q", key)
	}
	return parts[1], parts[2], nil
}

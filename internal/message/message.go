// internal/message/message.go
// Contains the wire format for messages exchanged between clients and the hub.
package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a message for routing purposes. Payload semantics beyond
// routing are the concern of whoever produced the message.
type Kind string

const (
	KindChat   Kind = "chat"
	KindSystem Kind = "system"
	KindGame   Kind = "game"
)

// Valid reports whether k is one of the known message kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindSystem, KindGame:
		return true
	}
	return false
}

const maxContentLength = 500

// Message is the single frame type crossing the WebSocket, one JSON object
// per frame. Sender and Timestamp are assigned by the hub on ingress and
// never trusted from the client.
type Message struct {
	Kind      Kind   `json:"kind"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver,omitempty"`
	Room      string `json:"room,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Decode parses a raw frame and validates it. A message addressing both a
// receiver and a room is rejected; at most one may be set.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("unable to parse message JSON: %w", err)
	}
	if !m.Kind.Valid() {
		return Message{}, fmt.Errorf("unknown message kind %q", m.Kind)
	}
	if m.Receiver != "" && m.Room != "" {
		return Message{}, fmt.Errorf("message addresses both receiver %q and room %q", m.Receiver, m.Room)
	}
	if m.Kind == KindChat {
		content := strings.TrimSpace(m.Content)
		if len(content) < 1 || len(content) > maxContentLength {
			return Message{}, fmt.Errorf("invalid chat content: must be 1-%d characters", maxContentLength)
		}
	}
	return m, nil
}

// Encode marshals the message for the wire.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Stamp overwrites the sender and timestamp with hub-assigned values.
func (m *Message) Stamp(sender string, at time.Time) {
	m.Sender = sender
	m.Timestamp = at.Unix()
}

// NewDirect builds a chat message addressed to a single user.
func NewDirect(receiver, content string) Message {
	return Message{Kind: KindChat, Receiver: receiver, Content: content}
}

// NewRoom builds a chat message addressed to a room.
func NewRoom(room, content string) Message {
	return Message{Kind: KindChat, Room: room, Content: content}
}

// NewSystem builds an unaddressed system message, used for server announcements.
func NewSystem(content string) Message {
	return Message{Kind: KindSystem, Content: content}
}

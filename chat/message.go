package chat

import (
	"time"
)

// MessageType discriminates the payload a message carries.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVoice MessageType = "voice"
)

// DeliveryState tags a locally held message with its confirmation status.
// Optimistic mutations apply a predicted state that is later confirmed by
// the server or rolled back.
type DeliveryState int

const (
	// StateConfirmed marks a message acknowledged by the server under its
	// real id.
	StateConfirmed DeliveryState = iota
	// StatePending marks a message created locally and not yet acknowledged.
	// Its ID is a client-generated temporary id.
	StatePending
)

// A Reaction is an emoji attached to a message by a user. The set of
// reactions on a message is unordered.
type Reaction struct {
	UserID   string
	Emoji    string
	UserName string
}

// A Message is one entry in a conversation. Within a conversation messages
// are totally ordered by CreatedAt, with ID as the tie-break.
type Message struct {
	ID            string
	SenderID      string
	ReceiverID    string
	Type          MessageType
	Content       string
	MediaURL      string
	MediaDuration int // seconds, voice only
	ReplyToID     string
	Reactions     []Reaction
	Read          bool
	CreatedAt     time.Time
	State         DeliveryState
}

// Less reports whether m sorts before other in conversation order.
func (m Message) Less(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Pending reports whether the message awaits server confirmation.
func (m Message) Pending() bool {
	return m.State == StatePending
}

// HasReaction reports whether userID already reacted to m with emoji.
func (m Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// WithToggledReaction returns a copy of m with the (userID, emoji) reaction
// added if absent or removed if present. The receiver is not mutated, so
// shared readers of the old value stay consistent.
func (m Message) WithToggledReaction(userID, emoji, userName string) Message {
	out := m
	out.Reactions = make([]Reaction, 0, len(m.Reactions)+1)
	removed := false
	for _, r := range m.Reactions {
		if !removed && r.UserID == userID && r.Emoji == emoji {
			removed = true
			continue
		}
		out.Reactions = append(out.Reactions, r)
	}
	if !removed {
		out.Reactions = append(out.Reactions, Reaction{UserID: userID, Emoji: emoji, UserName: userName})
	}
	return out
}

func countConfirmed(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if m.State == StateConfirmed {
			n++
		}
	}
	return n
}

package api

import "time"

// A Message represents a persisted direct message.
type Message struct {
	ID            string     `json:"id"`
	SenderID      string     `json:"sender_id"`
	ReceiverID    string     `json:"receiver_id"`
	Type          string     `json:"type"` // 'text', 'image' or 'voice'
	Content       string     `json:"content"`
	MediaURL      string     `json:"media_url,omitempty"`
	MediaDuration int        `json:"media_duration,omitempty"` // seconds, voice only
	ReplyToID     string     `json:"reply_to_id,omitempty"`
	Read          bool       `json:"read"`
	CreatedAt     time.Time  `json:"created_at"`
	Reactions     []Reaction `json:"reactions"`
	ReactionCount int        `json:"reaction_count"`
}

// A Reaction represents an emoji attached to a message by a user.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// A ConversationSummary is one row of the conversation list: the partner,
// the newest message and how many of their messages are unread.
type ConversationSummary struct {
	PartnerID   string   `json:"partner_id"`
	LastMessage *Message `json:"last_message"`
	UnreadCount int      `json:"unread_count"`
}

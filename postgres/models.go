package postgres

import (
	"time"

	"github.com/cookshare/messaging/api"
)

// A message represents a direct message in the database.
type message struct {
	ID            string     `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	SenderID      string     `bun:"sender_id,notnull"`
	ReceiverID    string     `bun:"receiver_id,notnull"`
	MessageType   string     `bun:"message_type,notnull"`
	Content       string     `bun:"content,notnull"`
	MediaURL      string     `bun:"media_url,nullzero"`
	MediaDuration int        `bun:"media_duration,nullzero"`
	ReplyToID     string     `bun:"reply_to_id,nullzero,type:uuid"`
	Read          bool       `bun:"read,notnull,default:false"`
	CreatedAt     time.Time  `bun:",nullzero,default:now()"`
	Reactions     []reaction `bun:"rel:has-many,join:id=message_id"`
}

type reaction struct {
	ID        string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	MessageID string    `bun:",notnull,type:uuid"`
	UserID    string    `bun:",notnull"`
	UserName  string    `bun:"user_name,nullzero"`
	Emoji     string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,default:now()"`
}

func (m message) APIMessage() api.Message {
	reactions := make([]api.Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		reactions[i] = r.APIReaction()
	}

	return api.Message{
		ID:            m.ID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Type:          m.MessageType,
		Content:       m.Content,
		MediaURL:      m.MediaURL,
		MediaDuration: m.MediaDuration,
		ReplyToID:     m.ReplyToID,
		Read:          m.Read,
		CreatedAt:     m.CreatedAt,
		Reactions:     reactions,
		ReactionCount: len(m.Reactions),
	}
}

func (r reaction) APIReaction() api.Reaction {
	return api.Reaction{
		ID:        r.ID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		UserName:  r.UserName,
		Emoji:     r.Emoji,
		CreatedAt: r.CreatedAt,
	}
}

package client

import (
	"github.com/cookshare/messaging/api"
	"github.com/cookshare/messaging/chat"
)

// A Conversation is one row of the conversation list screen.
type Conversation struct {
	PartnerID   string
	LastMessage *chat.Message
	UnreadCount int
}

// fromAPI converts a wire message into the local model. Everything the
// server returns is confirmed by definition.
func fromAPI(m api.Message) chat.Message {
	reactions := make([]chat.Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		reactions[i] = chat.Reaction{
			UserID:   r.UserID,
			Emoji:    r.Emoji,
			UserName: r.UserName,
		}
	}
	return chat.Message{
		ID:            m.ID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Type:          chat.MessageType(m.Type),
		Content:       m.Content,
		MediaURL:      m.MediaURL,
		MediaDuration: m.MediaDuration,
		ReplyToID:     m.ReplyToID,
		Read:          m.Read,
		CreatedAt:     m.CreatedAt,
		Reactions:     reactions,
		State:         chat.StateConfirmed,
	}
}

func fromAPIList(msgs []api.Message) []chat.Message {
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = fromAPI(m)
	}
	return out
}

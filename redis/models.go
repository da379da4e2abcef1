package redis

import (
	"encoding/json"
	"time"

	"github.com/cookshare/messaging/api"
)

// A message represents a cached direct message. Reactions are held as a
// JSON blob inside the hash; the cache window is invalidated on reaction
// mutations, so the blob only ever reflects insert-time state.
type message struct {
	ID            string    `redis:"id"`
	SenderID      string    `redis:"sender_id"`
	ReceiverID    string    `redis:"receiver_id"`
	MessageType   string    `redis:"message_type"`
	Content       string    `redis:"content"`
	MediaURL      string    `redis:"media_url"`
	MediaDuration int       `redis:"media_duration"`
	ReplyToID     string    `redis:"reply_to_id"`
	Read          bool      `redis:"read"`
	CreatedAt     time.Time `redis:"created_at"`
	ReactionsJSON string    `redis:"reactions"`
}

func newCacheMessage(msg api.Message) (message, error) {
	blob, err := json.Marshal(msg.Reactions)
	if err != nil {
		return message{}, err
	}
	return message{
		ID:            msg.ID,
		SenderID:      msg.SenderID,
		ReceiverID:    msg.ReceiverID,
		MessageType:   msg.Type,
		Content:       msg.Content,
		MediaURL:      msg.MediaURL,
		MediaDuration: msg.MediaDuration,
		ReplyToID:     msg.ReplyToID,
		Read:          msg.Read,
		CreatedAt:     msg.CreatedAt,
		ReactionsJSON: string(blob),
	}, nil
}

func (m message) APIMessage() (api.Message, error) {
	var reactions []api.Reaction
	if m.ReactionsJSON != "" {
		if err := json.Unmarshal([]byte(m.ReactionsJSON), &reactions); err != nil {
			return api.Message{}, err
		}
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
		ReactionCount: len(reactions),
	}, nil
}

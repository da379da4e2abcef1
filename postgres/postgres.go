package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/cookshare/messaging/api"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

func conversationFilter(q *bun.SelectQuery, userID, partnerID string) *bun.SelectQuery {
	return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("sender_id = ?", userID).Where("receiver_id = ?", partnerID)
			}).
			WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("sender_id = ?", partnerID).Where("receiver_id = ?", userID)
			})
	})
}

// ListConversation returns the messages exchanged between the two users,
// newest first.
func (pg *Postgres) ListConversation(ctx context.Context, userID, partnerID string, limit, offset int, excludeMsgIDs ...string) ([]api.Message, error) {
	var msgs []message
	q := pg.bun.NewSelect().
		Model(&msgs).
		Relation("Reactions").
		Order("created_at DESC", "id DESC").
		Limit(limit).
		Offset(offset)
	q = conversationFilter(q, userID, partnerID)

	if len(excludeMsgIDs) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(excludeMsgIDs))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]api.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.APIMessage()
	}

	return out, nil
}

// ListConversations folds every message involving the user into one summary
// per partner, newest conversation first.
func (pg *Postgres) ListConversations(ctx context.Context, userID string) ([]api.ConversationSummary, error) {
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("sender_id = ?", userID).WhereOr("receiver_id = ?", userID)
		}).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var (
		byIndex = make(map[string]int)
		out     []api.ConversationSummary
	)
	for _, m := range msgs {
		partnerID := m.SenderID
		if partnerID == userID {
			partnerID = m.ReceiverID
		}
		unread := 0
		if !m.Read && m.ReceiverID == userID {
			unread = 1
		}
		i, ok := byIndex[partnerID]
		if !ok {
			last := m.APIMessage()
			out = append(out, api.ConversationSummary{
				PartnerID:   partnerID,
				LastMessage: &last,
				UnreadCount: unread,
			})
			byIndex[partnerID] = len(out) - 1
			continue
		}
		out[i].UnreadCount += unread
	}

	return out, nil
}

// InsertMessage inserts a message into the database. The returned message
// holds auto generated fields, such as the message id.
func (pg *Postgres) InsertMessage(ctx context.Context, msg api.Message) (api.Message, error) {
	m := &message{
		SenderID:      msg.SenderID,
		ReceiverID:    msg.ReceiverID,
		MessageType:   msg.Type,
		Content:       msg.Content,
		MediaURL:      msg.MediaURL,
		MediaDuration: msg.MediaDuration,
		ReplyToID:     msg.ReplyToID,
	}
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return api.Message{}, fmt.Errorf("insert: %w", err)
	}
	return m.APIMessage(), nil
}

// ToggleReaction removes the matching reaction if it exists, otherwise
// inserts it. The returned bool reports whether the reaction is applied
// afterwards.
func (pg *Postgres) ToggleReaction(ctx context.Context, r api.Reaction) (bool, error) {
	applied := false
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*message)(nil)).
			Where("id = ?", r.MessageID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("lookup message: %w", err)
		}
		if !exists {
			return api.ErrNotFound
		}

		res, err := tx.NewDelete().
			Model((*reaction)(nil)).
			Where("message_id = ?", r.MessageID).
			Where("user_id = ?", r.UserID).
			Where("emoji = ?", r.Emoji).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete reaction: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}

		rm := &reaction{
			MessageID: r.MessageID,
			UserID:    r.UserID,
			UserName:  r.UserName,
			Emoji:     r.Emoji,
		}
		if _, err := tx.NewInsert().Model(rm).Exec(ctx); err != nil {
			return fmt.Errorf("insert reaction: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return false, api.ErrNotFound
		}
		return false, fmt.Errorf("toggle reaction: %w", err)
	}
	return applied, nil
}

// DeleteMessage removes the message. Only the sender may recall their own
// message.
func (pg *Postgres) DeleteMessage(ctx context.Context, messageID, userID string) error {
	var m message
	err := pg.bun.NewSelect().
		Model(&m).
		Where("id = ?", messageID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return api.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}
	if m.SenderID != userID {
		return api.ErrForbidden
	}

	if _, err := pg.bun.NewDelete().Model((*reaction)(nil)).Where("message_id = ?", messageID).Exec(ctx); err != nil {
		return fmt.Errorf("delete reactions: %w", err)
	}
	if _, err := pg.bun.NewDelete().Model((*message)(nil)).Where("id = ?", messageID).Exec(ctx); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DeleteConversation removes every message exchanged between the two users
// and returns how many were deleted.
func (pg *Postgres) DeleteConversation(ctx context.Context, userID, partnerID string) (int, error) {
	res, err := pg.bun.NewDelete().
		Model((*message)(nil)).
		WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.
				WhereGroup(" OR ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
					return q.Where("sender_id = ?", userID).Where("receiver_id = ?", partnerID)
				}).
				WhereGroup(" OR ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
					return q.Where("sender_id = ?", partnerID).Where("receiver_id = ?", userID)
				})
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// MarkRead marks every unread message from senderID to receiverID as read.
func (pg *Postgres) MarkRead(ctx context.Context, senderID, receiverID string) error {
	_, err := pg.bun.NewUpdate().
		Model((*message)(nil)).
		Set("read = TRUE").
		Where("sender_id = ?", senderID).
		Where("receiver_id = ?", receiverID).
		Where("read = FALSE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

// CountUnread returns the number of unread messages addressed to the user.
func (pg *Postgres) CountUnread(ctx context.Context, userID string) (int, error) {
	n, err := pg.bun.NewSelect().
		Model((*message)(nil)).
		Where("receiver_id = ?", userID).
		Where("read = FALSE").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cookshare/messaging/api"
)

// Redis provides a hot cache over the most recent messages of each
// conversation.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

const (
	convPrefix = "conv"
	userPrefix = "user"
	// maxSize is the cached window per conversation.
	maxSize = 25
)

// convKey is identical for both participants regardless of direction.
func convKey(userID, partnerID string) string {
	a, b := userID, partnerID
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s:%s", convPrefix, a, b)
}

func userKey(userID string) string {
	return fmt.Sprintf("%s:%s:convs", userPrefix, userID)
}

// ListConversation returns the cached window of the conversation between
// the two users, newest first.
func (r *Redis) ListConversation(ctx context.Context, userID, partnerID string) ([]api.Message, error) {
	key := convKey(userID, partnerID)
	vals, err := r.cli.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", time.Now().UnixNano()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}

	out := make([]api.Message, len(vals))
	for i, member := range vals {
		var msg message
		if err := r.cli.HGetAll(ctx, member).Scan(&msg); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		apiMsg, err := msg.APIMessage()
		if err != nil {
			return nil, fmt.Errorf("decode cached message: %w", err)
		}
		out[i] = apiMsg
	}

	return out, nil
}

// InsertMessage adds the message to its conversation window and registers
// the window under both participants for later invalidation.
func (r *Redis) InsertMessage(ctx context.Context, msg api.Message) error {
	m, err := newCacheMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	convK := convKey(msg.SenderID, msg.ReceiverID)

	err = r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			key := fmt.Sprintf("%s:msg:%s", convK, m.ID)
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, convK, redis.Z{
				Score:  float64(msg.CreatedAt.UnixNano()),
				Member: key,
			})
			pipe.SAdd(ctx, userKey(msg.SenderID), convK)
			pipe.SAdd(ctx, userKey(msg.ReceiverID), convK)

			return nil
		})
		return err
	}, m.ID)

	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	if err := r.evictOldest(ctx, convK); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// Invalidate drops cached windows. With a partner id only that
// conversation is dropped; without one every window the user appears in
// is dropped.
func (r *Redis) Invalidate(ctx context.Context, userID, partnerID string) error {
	if partnerID != "" {
		return r.dropConversation(ctx, convKey(userID, partnerID))
	}

	keys, err := r.cli.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("smembers: %w", err)
	}
	for _, key := range keys {
		if err := r.dropConversation(ctx, key); err != nil {
			return err
		}
	}
	if err := r.cli.Del(ctx, userKey(userID)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (r *Redis) dropConversation(ctx context.Context, convK string) error {
	members, err := r.cli.ZRange(ctx, convK, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	for _, member := range members {
		if err := r.cli.Del(ctx, member).Err(); err != nil {
			return fmt.Errorf("del: %w", err)
		}
	}
	if err := r.cli.Del(ctx, convK).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, convK string) error {
	vals, err := r.cli.ZRange(ctx, convK, 0, int64(-maxSize-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}

	for _, key := range vals {
		if !strings.HasPrefix(key, convK) {
			continue
		}
		_ = r.cli.ZRem(ctx, convK, key).Err()
		_ = r.cli.Del(ctx, key).Err()
	}

	return nil
}

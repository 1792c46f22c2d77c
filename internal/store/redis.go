package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/safenest/safenest/internal/metrics"
	"github.com/safenest/safenest/internal/models"
)

const messageTTL = 30 * 24 * time.Hour

// RedisStore is the message store: message bodies, per-room ordering, read
// receipts and reactions. Chat history is retained for messageTTL; long-term
// archival belongs to the external message warehouse.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomIndexKey returns the key for a room's message ordering sorted set.
func roomIndexKey(roomID string) string {
	return fmt.Sprintf("room:%s:msgs", roomID)
}

// messageKey returns the key holding one message's JSON body.
func messageKey(roomID, msgID string) string {
	return fmt.Sprintf("room:%s:msg:%s", roomID, msgID)
}

// readersKey returns the key for a message's read-receipt set.
func readersKey(roomID, msgID string) string {
	return fmt.Sprintf("room:%s:msg:%s:readers", roomID, msgID)
}

// reactionKey returns the key for one (message, emoji) reaction set.
func reactionKey(roomID, msgID, emoji string) string {
	return fmt.Sprintf("room:%s:msg:%s:react:%s", roomID, msgID, emoji)
}

// AddMessage stores a message, assigning its ULID and server timestamp.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	defer observeRedis(time.Now())

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, messageKey(msg.RoomID, msg.ID), data, messageTTL)
	pipe.ZAdd(ctx, roomIndexKey(msg.RoomID), redis.Z{
		Score:  float64(msg.Timestamp),
		Member: msg.ID,
	})
	pipe.Expire(ctx, roomIndexKey(msg.RoomID), messageTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// GetMessage retrieves a message by ID. Returns nil without error when the
// message does not exist or has expired.
func (s *RedisStore) GetMessage(ctx context.Context, roomID, msgID string) (*models.Message, error) {
	defer observeRedis(time.Now())

	data, err := s.client.Get(ctx, messageKey(roomID, msgID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessage rewrites a stored message in place. The ordering score is not
// touched: edits and tombstones keep the original position.
func (s *RedisStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	defer observeRedis(time.Now())

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, messageKey(msg.RoomID, msg.ID), data, messageTTL).Err()
}

// ListMessages retrieves messages newest-first, optionally strictly before a
// timestamp (Unix ms) for paging.
func (s *RedisStore) ListMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	defer observeRedis(time.Now())

	maxScore := "+inf"
	if before > 0 {
		maxScore = fmt.Sprintf("(%d", before) // exclusive
	}

	ids, err := s.client.ZRevRangeByScore(ctx, roomIndexKey(roomID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messageKey(roomID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired body, index entry outlived it
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkRead adds the identity to a message's read set. Returns true when the
// identity was not already in the set, so the second identical call is a
// no-op.
func (s *RedisStore) MarkRead(ctx context.Context, roomID, msgID, identityID string) (bool, error) {
	defer observeRedis(time.Now())

	key := readersKey(roomID, msgID)
	added, err := s.client.SAdd(ctx, key, identityID).Result()
	if err != nil {
		return false, err
	}
	s.client.Expire(ctx, key, messageTTL)
	return added > 0, nil
}

// ToggleReaction flips one (identity, emoji) reaction on a message. Returns
// true when the reaction is now present, false when the call removed it.
func (s *RedisStore) ToggleReaction(ctx context.Context, roomID, msgID, identityID, emoji string) (bool, error) {
	defer observeRedis(time.Now())

	key := reactionKey(roomID, msgID, emoji)
	added, err := s.client.SAdd(ctx, key, identityID).Result()
	if err != nil {
		return false, err
	}
	if added == 0 {
		// Already present: this call is the removal direction of the toggle.
		if err := s.client.SRem(ctx, key, identityID).Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	s.client.Expire(ctx, key, messageTTL)
	return true, nil
}

// Client exposes the underlying redis client for middleware that shares the
// connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func observeRedis(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

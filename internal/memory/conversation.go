package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TurnSource supplies the ordered turns of a user's conversation.
type TurnSource interface {
	RecentTurns(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error)
}

// ConversationStore keeps a bounded window of recent turns per conversation in Redis lists.
type ConversationStore struct {
	client   *redis.Client
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

// NewConversationStore creates a store that keeps at most maxTurns turns for ttl after the last write.
func NewConversationStore(client *redis.Client, maxTurns int, ttl time.Duration) *ConversationStore {
	return &ConversationStore{client: client, maxTurns: maxTurns, ttl: ttl, now: time.Now}
}

// Keys are scoped by owner so a conversation id can only be read by the user who wrote it.
func convKey(userID, conversationID string) string {
	return fmt.Sprintf("conv:%s:%s", userID, conversationID)
}

// AppendTurn adds a turn and trims the list to the configured window.
func (s *ConversationStore) AppendTurn(ctx context.Context, userID, conversationID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now().UTC()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshaling turn: %w", err)
	}

	key := convKey(userID, conversationID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, string(data))
	pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// RecentTurns returns the last limit turns, oldest first. limit <= 0 returns the whole window.
func (s *ConversationStore) RecentTurns(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error) {
	key := convKey(userID, conversationID)
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	vals, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	turns := make([]Turn, 0, len(vals))
	for _, v := range vals {
		var t Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			slog.Warn("memory: skipping malformed turn", "key", key, "error", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Clear deletes the stored turns of one conversation.
func (s *ConversationStore) Clear(ctx context.Context, userID, conversationID string) error {
	return s.client.Del(ctx, convKey(userID, conversationID)).Err()
}

package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	typingTTL    = 8 * time.Second
	typingPrefix = "typing:"
)

// TypingStore records "currently typing" pairs with a very short TTL. There is
// no explicit clear; entries simply expire.
type TypingStore interface {
	SetTyping(ctx context.Context, channelID, userID string) error
	GetTyping(ctx context.Context, channelID string) ([]string, error)
}

// RedisTypingStore implements TypingStore on Redis.
type RedisTypingStore struct {
	client *redis.Client
}

// NewRedisTypingStore constructs a RedisTypingStore.
func NewRedisTypingStore(client *redis.Client) *RedisTypingStore {
	return &RedisTypingStore{client: client}
}

func typingKey(channelID, userID string) string {
	return fmt.Sprintf("%s%s:%s", typingPrefix, channelID, userID)
}

// SetTyping writes or refreshes the pair's TTL; re-setting is idempotent.
func (s *RedisTypingStore) SetTyping(ctx context.Context, channelID, userID string) error {
	return s.client.Set(ctx, typingKey(channelID, userID), "1", typingTTL).Err()
}

// GetTyping returns the user ids currently typing in the channel.
func (s *RedisTypingStore) GetTyping(ctx context.Context, channelID string) ([]string, error) {
	prefix := typingPrefix + channelID + ":"
	var users []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			users = append(users, strings.TrimPrefix(key, prefix))
		}
		if next == 0 {
			return users, nil
		}
		cursor = next
	}
}

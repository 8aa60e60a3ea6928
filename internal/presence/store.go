package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is a user's presence state. Absence of a record means offline.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// ValidStatus reports whether a client-supplied status is one of the known values.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusOnline, StatusIdle, StatusDND, StatusOffline:
		return true
	}
	return false
}

const (
	presenceTTL    = 60 * time.Second
	presencePrefix = "presence:"
)

// Store is the presence TTL store shared by all gateway instances. Correctness
// relies only on TTL expiry and idempotent overwrites; there is no locking.
type Store interface {
	SetOnline(ctx context.Context, userID string, serverIDs []string) error
	SetStatus(ctx context.Context, userID string, status Status) error
	SetOffline(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
	GetPresence(ctx context.Context, userID string) (Status, error)
	GetOnlineMembers(ctx context.Context, userIDs []string) ([]string, error)
}

type record struct {
	Status    Status   `json:"status"`
	ServerIDs []string `json:"serverIds"`
}

// RedisStore implements Store on Redis with per-key TTLs.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SetOnline writes status=online with a fresh TTL, overwriting any prior entry.
func (s *RedisStore) SetOnline(ctx context.Context, userID string, serverIDs []string) error {
	value, err := json.Marshal(record{Status: StatusOnline, ServerIDs: serverIDs})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, presencePrefix+userID, value, presenceTTL).Err()
}

// SetStatus mutates an existing, unexpired entry. Setting status on an absent
// or expired entry is a no-op: an offline user cannot be made idle.
func (s *RedisStore) SetStatus(ctx context.Context, userID string, status Status) error {
	key := presencePrefix + userID
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return err
	}
	rec.Status = status

	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = presenceTTL
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetOffline deletes the entry unconditionally.
func (s *RedisStore) SetOffline(ctx context.Context, userID string) error {
	return s.client.Del(ctx, presencePrefix+userID).Err()
}

// Refresh extends the TTL of an existing entry; a no-op when absent.
func (s *RedisStore) Refresh(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, presencePrefix+userID, presenceTTL).Err()
}

// GetPresence returns the stored status, or offline when absent or expired.
func (s *RedisStore) GetPresence(ctx context.Context, userID string) (Status, error) {
	raw, err := s.client.Get(ctx, presencePrefix+userID).Result()
	if err == redis.Nil {
		return StatusOffline, nil
	}
	if err != nil {
		return StatusOffline, err
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return StatusOffline, err
	}
	return rec.Status, nil
}

// GetOnlineMembers returns the subset of userIDs with unexpired entries.
func (s *RedisStore) GetOnlineMembers(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, uid := range userIDs {
		cmds[i] = pipe.Exists(ctx, presencePrefix+uid)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	var online []string
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			online = append(online, userIDs[i])
		}
	}
	return online, nil
}

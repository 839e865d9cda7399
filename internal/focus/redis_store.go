package focus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	focusKeyPrefix = "focus:trip:"

	// defaultStoreTTL bounds how long a session without an explicit expiry
	// survives in redis. It is a backstop against abandoned sessions, well
	// above any sensible ExpiresAt.
	defaultStoreTTL = 24 * time.Hour
)

// RedisStore keeps the active session per trip under a single key with a
// TTL, so an expired session disappears from the store without a teardown
// write ever running.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(tripID string) string {
	return focusKeyPrefix + tripID
}

func (s *RedisStore) Save(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal focus session: %w", err)
	}

	ttl := defaultStoreTTL
	if sess.ExpiresAt != nil {
		until := time.Until(*sess.ExpiresAt)
		if until <= 0 {
			return fmt.Errorf("focus session %s already expired", sess.ID)
		}
		ttl = until
	}

	if err := s.client.Set(ctx, s.key(sess.TripID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save focus session: %w", err)
	}
	return nil
}

func (s *RedisStore) GetActive(ctx context.Context, tripID string) (Session, error) {
	data, err := s.client.Get(ctx, s.key(tripID)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNoActiveSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("get focus session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return Session{}, fmt.Errorf("unmarshal focus session: %w", err)
	}
	if !sess.ActiveAt(time.Now()) {
		return Session{}, ErrNoActiveSession
	}
	return sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, tripID string) error {
	if err := s.client.Del(ctx, s.key(tripID)).Err(); err != nil {
		return fmt.Errorf("delete focus session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

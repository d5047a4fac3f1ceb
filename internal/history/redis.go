package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyEntryPrefix = "mediafetch:history:"
	keyRecent      = "mediafetch:history:recent"

	// Failures have no link to expire, keep them a day
	failureTTL = 24 * time.Hour
	minTTL     = time.Minute
)

// RedisStore keeps each entry under its own key with a TTL and an index of
// recent IDs in a capped list.
type RedisStore struct {
	client *redis.Client
	limit  int
	now    func() time.Time
}

// NewRedisStore connects to redisURL and keeps at most limit IDs indexed
func NewRedisStore(ctx context.Context, redisURL string, limit int) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisStore(client, limit), nil
}

func newRedisStore(client *redis.Client, limit int) *RedisStore {
	if limit <= 0 {
		limit = 100
	}
	return &RedisStore{client: client, limit: limit, now: time.Now}
}

// Client exposes the connection for health checks
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) ttl(e Entry) time.Duration {
	if e.ExpiresAt.IsZero() {
		return failureTTL
	}
	ttl := e.ExpiresAt.Sub(s.now())
	if ttl < minTTL {
		ttl = minTTL
	}
	return ttl
}

func (s *RedisStore) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyEntryPrefix+e.ID, data, s.ttl(e))
		pipe.LPush(ctx, keyRecent, e.ID)
		pipe.LTrim(ctx, keyRecent, 0, int64(s.limit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}
	return nil
}

// Recent skips IDs whose entry key has already expired.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit, s.limit)

	ids, err := s.client.LRange(ctx, keyRecent, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyEntryPrefix + id
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	out := make([]Entry, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

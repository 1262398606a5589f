package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps a cumulative hash at <prefix>:total and per-minute
// buckets at <prefix>:minute:<yyyymmddhhmm> that expire after ttl.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	bucket bool
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// WithMinuteBuckets toggles the per-minute series.
func WithMinuteBuckets(on bool) RedisOption {
	return func(s *RedisStore) { s.bucket = on }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "facegate:stats",
		ttl:    24 * time.Hour,
		bucket: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Record(ctx context.Context, op, kind string, at time.Time) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	f := field(op, kind)
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", f, 1)
	if s.bucket {
		key := s.minuteKey(at)
		pipe.HIncrBy(ctx, key, f, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Snapshot(ctx context.Context) (map[string]int64, error) {
	return s.read(ctx, s.prefix+":total")
}

// Minute returns the bucket containing at.
func (s *RedisStore) Minute(ctx context.Context, at time.Time) (map[string]int64, error) {
	return s.read(ctx, s.minuteKey(at))
}

func (s *RedisStore) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

func (s *RedisStore) read(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stats field %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// Ping verifies connectivity; used at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

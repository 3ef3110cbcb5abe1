package keylock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLost = errors.New("keylock: lease lost before release")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX leases so several service instances
// share one serialization domain. A lease expires after TTL even when its
// holder dies.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

type RedisOption func(*Redis)

func WithPrefix(p string) RedisOption { return func(r *Redis) { r.prefix = p } }

func WithRetryInterval(d time.Duration) RedisOption { return func(r *Redis) { r.retry = d } }

func WithLogger(l *slog.Logger) RedisOption { return func(r *Redis) { r.logger = l } }

const defaultLeaseTTL = 30 * time.Second

// NewRedis builds the locker. A non-positive ttl falls back to 30s; a lease
// must always expire.
func NewRedis(client redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *Redis {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	r := &Redis{
		client: client,
		prefix: "entitynet:lock:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	k := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lease %q: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be cancelled; release regardless.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := releaseScript.Run(rctx, r.client, []string{k}, token).Int()
		if err != nil {
			r.logger.Warn("failed to release lease", "key", key, "error", err)
			return
		}
		if n == 0 {
			r.logger.Warn("lease expired before release", "key", key, "error", ErrLost)
		}
	}, nil
}

// Package distlock provides a redis-backed lock so periodic jobs run on one
// instance at a time in multi-instance deployments.
package distlock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/x402gate/x402gate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker acquires best-effort leases. A nil client (no redis configured)
// grants every acquisition, which is correct for single-instance deployments.
type Locker struct {
	client *redis.Client
	log    *zap.Logger
}

func NewLocker(client *redis.Client, log *zap.Logger) *Locker {
	return &Locker{client: client, log: log.Named("distlock")}
}

// Acquire takes the lease and returns a release func. ok is false when
// another holder has the lease.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool) {
	if l.client == nil {
		return func() {}, true
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		l.log.Warn("lock acquire failed, proceeding without lease",
			zap.String("key", key), zap.Error(err))
		return func() {}, true
	}
	if !acquired {
		return nil, false
	}

	return func() {
		if _, err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Result(); err != nil {
			l.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, true
}

// NewRedisClient returns nil when no redis address is configured.
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

var Module = fx.Module("distlock",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
)

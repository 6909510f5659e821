package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lease guards a submission across processor instances. Acquire returns ok=false
// when another holder owns the action.
type Lease interface {
	Acquire(ctx context.Context, actionID common.Hash) (release func(), ok bool, err error)
}

// LocalLease is for single-instance deployments; the in-flight set already excludes
// concurrent submissions inside one process.
type LocalLease struct{}

func (LocalLease) Acquire(context.Context, common.Hash) (func(), bool, error) {
	return func() {}, true, nil
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// only the token holder may delete the key
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLease is a per-action mutex in Redis (SET NX PX with a random token).
// The TTL must exceed the longest submission including retries.
type RedisLease struct {
	client redisClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLease(client redisClient, ttl time.Duration, logger *zap.Logger) *RedisLease {
	return &RedisLease{client: client, prefix: "cylend:settlement:lease:", ttl: ttl, logger: logger}
}

func (l *RedisLease) Acquire(ctx context.Context, actionID common.Hash) (func(), bool, error) {
	key := l.prefix + actionID.Hex()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// release must run even when ctx is already cancelled
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release lease", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}

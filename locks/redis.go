package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

// deletes the key only while it still carries our token
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every replica using the same Redis. Each key
// expires after TTL so a crashed holder cannot block intake forever.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
	}
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (Unlock, error) {
	keys = normalize(keys)
	token := uuid.NewString()

	got := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := r.lock(ctx, r.prefix+k, token); err != nil {
			r.release(context.WithoutCancel(ctx), got, token)
			return nil, err
		}
		got = append(got, r.prefix+k)
	}
	return func(ctx context.Context) { r.release(ctx, got, token) }, nil
}

func (r *Redis) lock(ctx context.Context, key, token string) error {
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return goerr.Wrap(err, "redis error acquiring lock", goerr.V("key", key))
		}
		if ok {
			return nil
		}

		select {
		case <-time.After(r.retry):
		case <-ctx.Done():
			return goerr.Wrap(ctx.Err(), "gave up waiting for lock", goerr.V("key", key))
		}
	}
}

func (r *Redis) release(ctx context.Context, keys []string, token string) {
	for i := len(keys) - 1; i >= 0; i-- {
		if err := unlockScript.Run(ctx, r.client, []string{keys[i]}, token).Err(); err != nil {
			ctxlog.From(ctx).Warn("failed to release lock", "key", keys[i], "error", err)
		}
	}
}

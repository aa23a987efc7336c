package config

import (
	"context"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns a pinged Redis client, or nil when no address is set.
func ConnectRedis(ctx context.Context, s *Settings) (*redis.Client, error) {
	if s.RedisAddress == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     s.RedisAddress,
		Password: s.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to connect to Redis", goerr.V("address", s.RedisAddress))
	}

	ctxlog.From(ctx).Info("connected to Redis", "address", s.RedisAddress)
	return client, nil
}

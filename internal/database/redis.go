package database

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is shared by the Redis graph backend, the Redis session store
// and the write rate limiter.
var RedisClient *redis.Client

// ConnectRedis opens RedisClient unless it is already open.
func ConnectRedis(ctx context.Context, redisURI string) error {
	if RedisClient != nil {
		return nil
	}
	opt, err := redis.ParseURL(redisURI)
	if err != nil {
		return err
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return err
	}

	RedisClient = client
	log.Printf("✅ Connected to Redis at %s", MaskURI(redisURI))
	return nil
}

func DisconnectRedis() error {
	if RedisClient == nil {
		return nil
	}
	err := RedisClient.Close()
	RedisClient = nil
	return err
}

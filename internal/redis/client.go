package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

// Connect initializes a Redis client and checks that the server answers
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

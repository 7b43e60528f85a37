// Package redis holds the two Redis-backed stores: the snapshot cache that
// lets a restarted server serve standings before its first upstream pull, and
// the membership store that keeps each device's my-rooms list.
package redis

import (
	"context"
	"fmt"

	"github.com/puzzleboard/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewClient creates a Redis client from configuration and verifies the
// connection before returning it.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return client, nil
}

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedisWithRetry connects, retrying until Redis answers or ctx is done.
// The returned client is owned by the caller, who closes it on shutdown.
func ConnectRedisWithRetry(ctx context.Context, cfg *Config) (*redis.Client, error) {
	var attempt int
	for {
		attempt++
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       0, // use default DB
			PoolSize: 100,
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, cfg.RedisAddress)
			return client, nil
		}
		_ = client.Close()

		sleep := RetryDelay(attempt)
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, cfg.RedisAddress, err, sleep)
		if err := sleepContext(ctx, sleep); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}
}

// DiplomaCacheKey is the read-cache key of a diploma projection.
func DiplomaCacheKey(id int) string {
	return fmt.Sprintf("diploma:%d", id)
}

// DiplomaCache stores diploma projections as JSON under diploma:{id} with a fixed TTL.
// Entries are never refreshed on write; they expire.
type DiplomaCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewDiplomaCache(client redis.UniversalClient, ttl time.Duration) *DiplomaCache {
	return &DiplomaCache{client: client, ttl: ttl}
}

// Get decodes the cached projection of id into dest. It reports false on a miss.
func (c *DiplomaCache) Get(ctx context.Context, id int, dest any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	val, err := c.client.Get(ctx, DiplomaCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *DiplomaCache) Set(ctx context.Context, id int, obj any) error {
	if c == nil || c.client == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, DiplomaCacheKey(id), objInByte, c.ttl).Err()
}

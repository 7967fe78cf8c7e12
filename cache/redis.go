package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error
)

// GetRedisClient returns a singleton Redis client configured from environment variables.
// REDIS_ADDR defaults to localhost:6379 when unset. REDIS_DB and REDIS_PASSWORD are optional.
func GetRedisClient() (*redis.Client, error) {
	redisOnce.Do(func() {
		addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
		if addr == "" {
			addr = "localhost:6379"
		}
		password := os.Getenv("REDIS_PASSWORD")
		db := 0
		if rawDB := strings.TrimSpace(os.Getenv("REDIS_DB")); rawDB != "" {
			if parsed, err := strconv.Atoi(rawDB); err == nil {
				db = parsed
			}
		}

		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			redisErr = fmt.Errorf("cache: ping redis %s failed: %w", addr, err)
			_ = client.Close()
			return
		}

		redisClient = client
	})

	return redisClient, redisErr
}

// Enabled reports whether a usable Redis client was initialized.
func Enabled() bool {
	client, err := GetRedisClient()
	return err == nil && client != nil
}

// Close releases the cached Redis connection. Mainly useful for tests.
func Close() error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Close()
}

// ErrMiss is returned by GetJSON when the key is absent.
var ErrMiss = errors.New("cache: miss")

// GetJSON loads a key and decodes its JSON payload into dest.
// Returns ErrMiss when the key does not exist or Redis is unavailable.
func GetJSON(ctx context.Context, key string, dest interface{}) error {
	client, err := GetRedisClient()
	if err != nil || client == nil {
		return ErrMiss
	}

	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return err
	}

	return json.Unmarshal(raw, dest)
}

// SetJSON encodes value as JSON and stores it under key with the given TTL.
// A no-op when Redis is unavailable.
func SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	client, err := GetRedisClient()
	if err != nil || client == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}

	return client.Set(ctx, key, data, ttl).Err()
}

// Delete removes the given keys. Missing keys are not an error.
func Delete(ctx context.Context, keys ...string) error {
	client, err := GetRedisClient()
	if err != nil || client == nil || len(keys) == 0 {
		return nil
	}
	return client.Del(ctx, keys...).Err()
}

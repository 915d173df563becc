package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wallet-gateway/internal/config"
	"github.com/wallet-gateway/internal/types"
)

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client, used by tests.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func balanceKey(identity types.Identity) string {
	return fmt.Sprintf("balance:last:%s", identity)
}

// LastBalance returns the last balance observed for an identity. The second
// return value is false when none has been recorded yet.
func (r *RedisCache) LastBalance(ctx context.Context, identity types.Identity) (types.Amount, bool, error) {
	raw, err := r.client.Get(ctx, balanceKey(identity)).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get last balance: %w", err)
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt last balance for %s: %w", identity, err)
	}

	return types.Amount(value), true, nil
}

// SetLastBalance records the balance just observed for an identity.
func (r *RedisCache) SetLastBalance(ctx context.Context, identity types.Identity, balance types.Amount) error {
	if err := r.client.Set(ctx, balanceKey(identity), int64(balance), 0).Err(); err != nil {
		return fmt.Errorf("failed to set last balance: %w", err)
	}
	return nil
}

// ForgetBalance drops the recorded balance of an identity, used when a user
// unregisters.
func (r *RedisCache) ForgetBalance(ctx context.Context, identity types.Identity) error {
	if err := r.client.Del(ctx, balanceKey(identity)).Err(); err != nil {
		return fmt.Errorf("failed to forget balance: %w", err)
	}
	return nil
}

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/dinehub/services/orders/config"
)

// RedisLedger is a Redis-backed command dedupe ledger. Keys are written
// with SETNX so concurrent duplicates race safely on the broker retry
// path as well as the HTTP one.
type RedisLedger struct {
	client  *redis.Client
	ttl     time.Duration
	enabled bool
}

// NewRedisLedger creates a Redis command ledger. When Redis is disabled
// in the configuration the ledger reports every command as fresh.
func NewRedisLedger(cfg config.Config) (*RedisLedger, error) {
	if !cfg.RedisEnabled {
		return &RedisLedger{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisLedger{
		client:  client,
		ttl:     cfg.IdempotencyTTL,
		enabled: true,
	}, nil
}

// Record marks the (aggregateID, idempotencyKey) pair as seen. It
// returns false if the pair was already recorded inside the TTL window.
func (l *RedisLedger) Record(ctx context.Context, aggregateID, idempotencyKey string) (bool, error) {
	if !l.enabled {
		return true, nil
	}

	key := ledgerKey(aggregateID, idempotencyKey)
	fresh, err := l.client.SetNX(ctx, key, 1, l.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to record idempotency key in Redis")
	}

	return fresh, nil
}

// Forget releases a recorded pair so the retry of a failed command is
// not dropped as a duplicate.
func (l *RedisLedger) Forget(ctx context.Context, aggregateID, idempotencyKey string) error {
	if !l.enabled {
		return nil
	}

	if err := l.client.Del(ctx, ledgerKey(aggregateID, idempotencyKey)).Err(); err != nil {
		return errors.Wrap(err, "failed to release idempotency key in Redis")
	}

	return nil
}

func ledgerKey(aggregateID, idempotencyKey string) string {
	return fmt.Sprintf("cmd:%s:%s", aggregateID, idempotencyKey)
}

// Close closes the Redis connection.
func (l *RedisLedger) Close() error {
	if !l.enabled || l.client == nil {
		return nil
	}

	return l.client.Close()
}

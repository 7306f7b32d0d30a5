package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/cane-check/internal/logging"
)

// RedisStore keeps previews in Redis so several API replicas can serve them.
type RedisStore struct {
	client         redis.Cmdable
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisStore constructs a Redis-backed preview store.
func NewRedisStore(client redis.Cmdable, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:         client,
		logger:         logger.Named("preview_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func redisKey(id string) string {
	return fmt.Sprintf("preview:%s", id)
}

func (s *RedisStore) Put(ctx context.Context, id string, payload Payload, ttl time.Duration) error {
	serialized, err := json.Marshal(payload)
	if err != nil {
		return logging.NewOperationError("preview.put", id, err)
	}
	return s.withRetry(ctx, id, "preview.put", func() error {
		return s.client.Set(ctx, redisKey(id), serialized, ttl).Err()
	})
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Payload, error) {
	var raw string
	err := s.withRetry(ctx, id, "preview.get", func() error {
		value, err := s.client.Get(ctx, redisKey(id)).Result()
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, logging.NewOperationError("preview.decode", id, err)
	}
	return &payload, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var removed int64
	err := s.withRetry(ctx, id, "preview.delete", func() error {
		n, err := s.client.Del(ctx, redisKey(id)).Result()
		removed = n
		return err
	})
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) withRetry(ctx context.Context, id, operation string, fn func() error) error {
	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, id)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, id, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, id, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, id, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/types"
)

const dequeueBlock = time.Second

// RedisQueue is a TaskQueue on a Redis list pair: a ready list holds
// pending payloads and a processing list holds in-flight ones, so a crashed
// consumer leaves its item recoverable. Nacked items re-enter the ready
// list after an exponential backoff; exhausted items land in a dead-letter
// list.
type RedisQueue struct {
	client    *redis.Client
	cfg       config.QueueConfig
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(cfg config.QueueConfig, logger *zap.Logger) (*RedisQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "orchestra:"
	}
	return &RedisQueue{
		client:    client,
		cfg:       cfg,
		keyPrefix: keyPrefix + "queue:",
		logger:    logger.With(zap.String("component", "redis_queue")),
	}, nil
}

func (q *RedisQueue) readyKey() string      { return q.keyPrefix + "ready" }
func (q *RedisQueue) processingKey() string { return q.keyPrefix + "processing" }
func (q *RedisQueue) deadKey() string       { return q.keyPrefix + "dead" }

// Enqueue appends the item to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, item *Item) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}
	return q.client.RPush(ctx, q.readyKey(), data).Err()
}

// Dequeue moves the next ready item into the processing list and returns
// it. Blocks in short polls until an item arrives or the context is done.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Item, error) {
	for {
		data, err := q.client.LMove(ctx, q.readyKey(), q.processingKey(), "LEFT", "RIGHT").Result()
		switch {
		case err == redis.Nil:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(dequeueBlock):
			}
			continue
		case err != nil:
			return nil, fmt.Errorf("failed to dequeue: %w", err)
		}

		var item Item
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			// Unparseable payload: drop from processing, keep serving.
			q.client.LRem(ctx, q.processingKey(), 1, data)
			q.logger.Error("discarding malformed queue item", zap.Error(err))
			continue
		}
		item.Attempts++
		return &item, nil
	}
}

// Ack removes the item from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, item *Item) error {
	return q.removeProcessing(ctx, item)
}

// Nack removes the item from the processing list and either schedules a
// backed-off re-delivery or dead-letters it once the retry budget is spent.
func (q *RedisQueue) Nack(ctx context.Context, item *Item) error {
	if err := q.removeProcessing(ctx, item); err != nil {
		return err
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}

	if item.Attempts >= q.maxRetry() {
		q.logger.Warn("item dead-lettered",
			zap.String("item_id", item.ID),
			zap.String("task_id", item.TaskID),
			zap.Int("attempts", item.Attempts),
		)
		return q.client.RPush(ctx, q.deadKey(), data).Err()
	}

	delay := backoffDelay(q.cfg.Backoff, item.Attempts)
	time.AfterFunc(delay, func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.client.RPush(rctx, q.readyKey(), data).Err(); err != nil {
			q.logger.Error("failed to re-deliver item",
				zap.String("item_id", item.ID),
				zap.Error(err),
			)
		}
	})
	return nil
}

// removeProcessing drops the in-flight copy. The stored copy carries the
// pre-delivery attempt count, so marshal with Attempts-1 to match it.
func (q *RedisQueue) removeProcessing(ctx context.Context, item *Item) error {
	stored := *item
	stored.Attempts--
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}
	return q.client.LRem(ctx, q.processingKey(), 1, data).Err()
}

// DeadLetters returns all dead-lettered items.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]*Item, error) {
	raw, err := q.client.LRange(ctx, q.deadKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	out := make([]*Item, 0, len(raw))
	for _, data := range raw {
		var item Item
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			continue
		}
		out = append(out, &item)
	}
	return out, nil
}

// Depth reports the number of ready items.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey()).Result()
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) maxRetry() int {
	if q.cfg.MaxRetry <= 0 {
		return 3
	}
	return q.cfg.MaxRetry
}

// New builds the queue selected by the configuration backend.
func New(cfg config.QueueConfig, logger *zap.Logger) (TaskQueue, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisQueue(cfg, logger)
	case "", "memory":
		return NewMemoryQueue(cfg, logger), nil
	default:
		return nil, types.NewErrorf(types.ErrValidationFailed, "unknown queue backend %q", cfg.Backend)
	}
}

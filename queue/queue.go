// Package queue provides the durable task queue used for retry re-delivery.
// Items survive the process when the Redis backend is selected; the
// in-memory backend serves tests and single-process deployments.
package queue

import (
	"context"
	"time"
)

// Item is one queued unit of work. Attempts counts deliveries so far; the
// queue dead-letters an item once attempts exceed the retry budget.
type Item struct {
	ID          string            `json:"id"`
	ExecutionID string            `json:"execution_id"`
	TaskID      string            `json:"task_id"`
	Payload     map[string]any    `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Attempts    int               `json:"attempts"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
}

// TaskQueue is an at-least-once delivery queue. Dequeue blocks until an
// item is available or the context is done. Every dequeued item must be
// settled with Ack or Nack; Nack re-delivers with backoff until the retry
// budget is spent, after which the item moves to the dead-letter set.
type TaskQueue interface {
	Enqueue(ctx context.Context, item *Item) error
	Dequeue(ctx context.Context) (*Item, error)
	Ack(ctx context.Context, item *Item) error
	Nack(ctx context.Context, item *Item) error
	Close() error
}

// backoffDelay returns the exponential re-delivery delay for an attempt
// count, doubling the base per prior attempt.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

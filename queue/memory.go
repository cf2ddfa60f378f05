package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/types"
)

// MemoryQueue is a process-local TaskQueue. Nacked items re-enter the ready
// list after their backoff delay via a timer; nothing survives a restart.
type MemoryQueue struct {
	cfg    config.QueueConfig
	logger *zap.Logger

	mu         sync.Mutex
	ready      *list.List
	processing map[string]*Item
	dead       []*Item
	timers     map[string]*time.Timer
	waiters    []chan *Item
	closed     bool
}

// NewMemoryQueue creates an in-memory queue.
func NewMemoryQueue(cfg config.QueueConfig, logger *zap.Logger) *MemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueue{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "memory_queue")),
		ready:      list.New(),
		processing: make(map[string]*Item),
		timers:     make(map[string]*time.Timer),
	}
}

// Enqueue appends an item to the ready list, waking one blocked Dequeue if
// any.
func (q *MemoryQueue) Enqueue(ctx context.Context, item *Item) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return types.NewError(types.ErrQueueClosed, "queue is closed")
	}
	q.pushLocked(item)
	q.mu.Unlock()
	return nil
}

// pushLocked hands the item straight to a waiter when one is blocked,
// otherwise appends to the ready list.
func (q *MemoryQueue) pushLocked(item *Item) {
	for len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		select {
		case w <- item:
			item.Attempts++
			q.processing[item.ID] = item
			return
		default:
			// Waiter timed out and abandoned its channel.
		}
	}
	q.ready.PushBack(item)
}

// Dequeue returns the next ready item, blocking until one arrives or the
// context is done. The returned item is tracked as in-flight until settled.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Item, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, types.NewError(types.ErrQueueClosed, "queue is closed")
	}
	if front := q.ready.Front(); front != nil {
		q.ready.Remove(front)
		item := front.Value.(*Item)
		item.Attempts++
		q.processing[item.ID] = item
		q.mu.Unlock()
		return item, nil
	}

	w := make(chan *Item, 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case item, ok := <-w:
		if !ok {
			return nil, types.NewError(types.ErrQueueClosed, "queue is closed")
		}
		return item, nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, waiter := range q.waiters {
			if waiter == w {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				break
			}
		}
		// An item may have been delivered before the waiter was removed;
		// return it to the ready list.
		select {
		case item := <-w:
			item.Attempts--
			delete(q.processing, item.ID)
			q.ready.PushFront(item)
		default:
		}
		q.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Ack settles an in-flight item.
func (q *MemoryQueue) Ack(_ context.Context, item *Item) error {
	q.mu.Lock()
	delete(q.processing, item.ID)
	q.mu.Unlock()
	return nil
}

// Nack fails an in-flight item. Within the retry budget it is re-delivered
// after an exponential backoff; past the budget it is dead-lettered.
func (q *MemoryQueue) Nack(_ context.Context, item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, item.ID)

	if item.Attempts >= q.maxRetry() {
		q.dead = append(q.dead, item)
		q.logger.Warn("item dead-lettered",
			zap.String("item_id", item.ID),
			zap.String("task_id", item.TaskID),
			zap.Int("attempts", item.Attempts),
		)
		return nil
	}

	delay := backoffDelay(q.cfg.Backoff, item.Attempts)
	q.timers[item.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, item.ID)
		if q.closed {
			return
		}
		q.pushLocked(item)
	})
	return nil
}

// DeadLetters returns a copy of the dead-letter set.
func (q *MemoryQueue) DeadLetters() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Item{}, q.dead...)
}

// Depth reports the number of ready items.
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len()
}

// Close rejects further operations and wakes blocked Dequeue callers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, t := range q.timers {
		t.Stop()
	}
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
	return nil
}

func (q *MemoryQueue) maxRetry() int {
	if q.cfg.MaxRetry <= 0 {
		return 3
	}
	return q.cfg.MaxRetry
}

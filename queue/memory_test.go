package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/types"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Backend:  "memory",
		MaxRetry: 3,
		Backoff:  time.Millisecond,
	}
}

func TestMemoryEnqueueDequeueAck(t *testing.T) {
	q := NewMemoryQueue(testQueueConfig(), nil)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Item{ID: "i1", TaskID: "t1"}))
	require.Equal(t, 1, q.Depth())

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "i1", item.ID)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, 0, q.Depth())

	require.NoError(t, q.Ack(ctx, item))
}

func TestMemoryDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemoryQueue(testQueueConfig(), nil)
	defer q.Close()
	ctx := context.Background()

	got := make(chan *Item, 1)
	go func() {
		item, err := q.Dequeue(ctx)
		if err == nil {
			got <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, &Item{ID: "late"}))

	select {
	case item := <-got:
		assert.Equal(t, "late", item.ID)
	case <-time.After(time.Second):
		t.Fatal("blocked dequeue never woke")
	}
}

func TestMemoryDequeueContextCancel(t *testing.T) {
	q := NewMemoryQueue(testQueueConfig(), nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryNackRedeliversWithBackoff(t *testing.T) {
	q := NewMemoryQueue(testQueueConfig(), nil)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Item{ID: "flaky"}))

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, item))

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	again, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, "flaky", again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestMemoryDeadLetterAfterBudget(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxRetry = 2
	q := NewMemoryQueue(cfg, nil)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Item{ID: "doomed"}))

	for attempt := 1; attempt <= 2; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, time.Second)
		item, err := q.Dequeue(dctx)
		cancel()
		require.NoError(t, err)
		require.Equal(t, attempt, item.Attempts)
		require.NoError(t, q.Nack(ctx, item))
	}

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "doomed", dead[0].ID)
	assert.Equal(t, 0, q.Depth(), "dead-lettered item must not re-deliver")
}

func TestMemoryCloseRejectsAndWakes(t *testing.T) {
	q := NewMemoryQueue(testQueueConfig(), nil)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.Equal(t, types.ErrQueueClosed, types.GetErrorCode(err))
	case <-time.After(time.Second):
		t.Fatal("blocked dequeue not woken by close")
	}

	err := q.Enqueue(ctx, &Item{ID: "x"})
	assert.Equal(t, types.ErrQueueClosed, types.GetErrorCode(err))
}

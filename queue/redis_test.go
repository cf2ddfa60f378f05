package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrahq/orchestra/config"
)

func testRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := NewRedisQueue(config.QueueConfig{
		Backend:   "redis",
		RedisAddr: mr.Addr(),
		KeyPrefix: "test:",
		MaxRetry:  3,
		Backoff:   time.Millisecond,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestRedisEnqueueDequeueAck(t *testing.T) {
	q := testRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Item{ID: "i1", ExecutionID: "e1", TaskID: "t1"}))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "i1", item.ID)
	assert.Equal(t, "t1", item.TaskID)
	assert.Equal(t, 1, item.Attempts)

	// In-flight until acked.
	inflight, err := q.client.LLen(ctx, q.processingKey()).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, inflight)

	require.NoError(t, q.Ack(ctx, item))
	inflight, err = q.client.LLen(ctx, q.processingKey()).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, inflight)
}

func TestRedisNackRedelivers(t *testing.T) {
	q := testRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Item{ID: "flaky", TaskID: "t1"}))

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, item))

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	again, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, "flaky", again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestRedisDeadLetterAfterBudget(t *testing.T) {
	q := testRedisQueue(t)
	q.cfg.MaxRetry = 1
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Item{ID: "doomed", TaskID: "t1"}))

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, item))

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "doomed", dead[0].ID)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, depth)
}

func TestRedisDequeueContextCancel(t *testing.T) {
	q := testRedisQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewSelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	mem, err := New(config.QueueConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, mem)
	mem.Close()

	rq, err := New(config.QueueConfig{Backend: "redis", RedisAddr: mr.Addr()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisQueue{}, rq)
	rq.Close()

	_, err = New(config.QueueConfig{Backend: "bogus"}, nil)
	require.Error(t, err)
}

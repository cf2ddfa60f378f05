package event

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrahq/orchestra/types"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBus(nil)
	defer b.Stop()

	got := make(chan Event, 1)
	b.Subscribe(WorkflowStarted, func(ev Event) { got <- ev })

	b.Publish(NewWorkflowEvent(WorkflowStarted, "e1", "wf-1", types.ExecutionRunning, ""))

	select {
	case ev := <-got:
		we, ok := ev.(*WorkflowEvent)
		require.True(t, ok)
		assert.Equal(t, "e1", we.ExecutionID)
		assert.Equal(t, "wf-1", we.WorkflowID)
		assert.False(t, we.Timestamp().IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestTypeIsolation(t *testing.T) {
	b := NewBus(nil)
	defer b.Stop()

	var taskEvents atomic.Int32
	b.Subscribe(TaskCompleted, func(Event) { taskEvents.Add(1) })

	b.Publish(NewWorkflowEvent(WorkflowCompleted, "e1", "wf-1", types.ExecutionCompleted, ""))
	b.Publish(NewTaskEvent(TaskCompleted, "e1", "t1", "a1", types.TaskCompleted, time.Second, ""))

	require.Eventually(t, func() bool { return taskEvents.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, taskEvents.Load(), "handler must only see its subscribed type")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(nil)
	defer b.Stop()

	var count atomic.Int32
	id := b.Subscribe(AlertRaised, func(Event) { count.Add(1) })

	b.Publish(NewAlertEvent(types.Alert{ID: "a1", Kind: types.AlertDuration, Severity: types.SeverityHigh}))
	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	b.Unsubscribe(id)
	b.Publish(NewAlertEvent(types.Alert{ID: "a2", Kind: types.AlertDuration, Severity: types.SeverityHigh}))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, count.Load())
}

func TestHandlerPanicDoesNotKillBus(t *testing.T) {
	b := NewBus(nil)
	defer b.Stop()

	b.Subscribe(LockAcquired, func(Event) { panic("handler bug") })
	survived := make(chan struct{}, 1)
	b.Subscribe(LockAcquired, func(Event) { survived <- struct{}{} })

	b.Publish(NewLockEvent(LockAcquired, "s1", "doc", "alice", types.LockWrite))

	select {
	case <-survived:
	case <-time.After(time.Second):
		t.Fatal("panicking sibling handler stopped delivery")
	}

	// The dispatch loop is still alive.
	b.Publish(NewLockEvent(LockAcquired, "s1", "doc", "bob", types.LockRead))
	select {
	case <-survived:
	case <-time.After(time.Second):
		t.Fatal("bus stopped dispatching after a handler panic")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	b := NewBus(nil)
	b.Stop()
	b.Stop()

	// Publishing after stop must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(NewWorkflowEvent(WorkflowStarted, "e", "wf", types.ExecutionRunning, ""))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}

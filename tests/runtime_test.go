// Package tests holds cross-cutting integration scenarios exercising more
// than one corow package together, in the teacher's tests/*_test.go style
// (one behavior per test, testify require/assert).
package tests

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/corow"
	"github.com/ygrebnov/corow/channel"
	"github.com/ygrebnov/corow/corosync"
	"github.com/ygrebnov/corow/dispatchers"
)

func newScope(t *testing.T) (corow.Context, corow.CancelJob) {
	t.Helper()
	ctx, cancel := corow.NewScope(corow.WithDispatcher(dispatchers.Unconfined))
	t.Cleanup(func() { cancel(nil) })
	return ctx, cancel
}

// A job is exactly one of active / cancelling-not-completed / completed at
// any observation (spec.md §8).
func TestJob_ExactlyOneLifecycleStateAtATime(t *testing.T) {
	ctx, cancel := newScope(t)

	job := corow.Launch(ctx, corow.StartLazy, func(corow.Context) error {
		return nil
	})

	active := job.IsActive()
	cancelling := job.IsCancelling() && !job.IsCompleted()
	completed := job.IsCompleted()
	count := 0
	for _, b := range []bool{active, cancelling, completed} {
		if b {
			count++
		}
	}
	require.Equal(t, 1, count)

	cancel(nil)
}

// A CoroutineScope whose block fails cancels a child that is still
// running, and the child's completion handler observes a cause (spec.md
// §8). The child runs on a pooled dispatcher so that it is still running
// when the block returns; under Unconfined, Launch would run it to
// completion before returning.
func TestCoroutineScope_FailureCancelsRunningChild(t *testing.T) {
	ctx, cancel := corow.NewScope(corow.WithDispatcher(dispatchers.NewPooled()))
	defer cancel(nil)

	childStarted := make(chan struct{})
	childCancelled := make(chan struct{})

	_, err := corow.CoroutineScope[struct{}](ctx, func(scopeCtx corow.Context) (struct{}, error) {
		child := corow.Launch(scopeCtx, corow.StartDefault, func(childCtx corow.Context) error {
			close(childStarted)
			time.Sleep(20 * time.Millisecond)
			return nil
		})
		child.InvokeOnCompletion(false, true, func(cause error) {
			if cause != nil {
				close(childCancelled)
			}
		})

		<-childStarted
		return struct{}{}, errors.New("boom")
	})

	require.Error(t, err)
	require.Equal(t, "boom", err.Error())

	select {
	case <-childCancelled:
	case <-time.After(time.Second):
		t.Fatal("child was never cancelled by the failing scope")
	}
}

// A cancellable continuation's InvokeOnCancellation handler fires at most
// once, even when Cancel is called twice from another goroutine (spec.md
// §8).
func TestCancellableContinuation_CancellationHandlerFiresAtMostOnce(t *testing.T) {
	ctx, cancel := newScope(t)
	defer cancel(nil)

	cont := corow.NewSuspendingContinuation[struct{}](ctx)
	var fired atomic.Int32
	cont.InvokeOnCancellation(func(error) { fired.Add(1) })

	done := make(chan struct{})
	go func() {
		cont.Cancel(errors.New("cancel-a"))
		cont.Cancel(errors.New("cancel-b"))
		close(done)
	}()
	<-done
	_, _ = cont.Await()

	require.Equal(t, int32(1), fired.Load())
}

// A buffered channel value sent and not dropped is delivered to exactly
// one receiver, in send order (spec.md §8).
func TestChannel_SendOrderPreservedAcrossReceivers(t *testing.T) {
	ctx, cancel := newScope(t)
	defer cancel(nil)

	ch := channel.New[int](channel.NewBuffered(8), channel.OverflowSuspend, nil)
	for i := 0; i < 8; i++ {
		require.NoError(t, ch.Send(ctx, i))
	}
	for i := 0; i < 8; i++ {
		v, err := ch.Receive(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
}

// A mutex held by one owner rejects a reentrant Lock by the same owner
// rather than deadlocking (spec.md §4.9).
func TestMutex_ReentrantLockIsRejected(t *testing.T) {
	ctx, cancel := newScope(t)
	defer cancel(nil)

	m := corosync.NewMutex(16)
	require.NoError(t, m.Lock(ctx, "owner"))
	err := m.Lock(ctx, "owner")
	require.ErrorIs(t, err, corow.ErrReentrantLock)
	require.NoError(t, m.Unlock("owner"))
}

// WithTimeout surfaces ErrTimeout when the body outlives the deadline.
func TestWithTimeout_SurfacesTimeoutCause(t *testing.T) {
	ctx, cancel := newScope(t)
	defer cancel(nil)

	_, err := corow.WithTimeout[struct{}](ctx, 10*time.Millisecond, func(bodyCtx corow.Context) (struct{}, error) {
		time.Sleep(50 * time.Millisecond)
		return struct{}{}, nil
	})
	require.True(t, corow.IsCancellationError(err))
	require.ErrorIs(t, err, corow.ErrTimeout)
}

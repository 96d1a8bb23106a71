package channel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/corow"
	"github.com/ygrebnov/corow/channel"
	"github.com/ygrebnov/corow/dispatchers"
)

func newTestScope(t *testing.T) corow.Context {
	t.Helper()
	ctx, cancel := corow.NewScope(corow.WithDispatcher(dispatchers.Unconfined))
	t.Cleanup(func() { cancel(nil) })
	return ctx
}

func TestChannel_BufferedSendDoesNotBlock(t *testing.T) {
	ctx := newTestScope(t)
	ch := channel.New[int](channel.NewBuffered(2), channel.OverflowSuspend, nil)

	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	v, err = ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestChannel_RendezvousPairsSenderAndReceiver(t *testing.T) {
	ctx := newTestScope(t)
	ch := channel.New[string](channel.NewRendezvous(), channel.OverflowSuspend, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, ch.Send(ctx, "hello"))
	}()

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", v)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender never unblocked")
	}
}

func TestChannel_CloseFailsFutureSendsButDrainsBuffer(t *testing.T) {
	ctx := newTestScope(t)
	ch := channel.New[int](channel.NewBuffered(4), channel.OverflowSuspend, nil)

	require.NoError(t, ch.Send(ctx, 42))
	ch.Close(nil)

	err := ch.Send(ctx, 43)
	require.ErrorIs(t, err, corow.ErrClosedSend)

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, v)

	_, err = ch.Receive(ctx)
	require.ErrorIs(t, err, corow.ErrClosedReceive)
}

func TestChannel_DropOldestEvictsAndReportsUndelivered(t *testing.T) {
	ctx := newTestScope(t)
	var undelivered []int
	ch := channel.New[int](channel.NewBuffered(1), channel.OverflowDropOldest, func(v int) {
		undelivered = append(undelivered, v)
	})

	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))

	require.Equal(t, []int{1}, undelivered)

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestChannel_CancelDrainsAndFailsPendingReceive(t *testing.T) {
	ctx := newTestScope(t)
	var undelivered []int
	ch := channel.New[int](channel.NewBuffered(4), channel.OverflowSuspend, func(v int) {
		undelivered = append(undelivered, v)
	})
	require.NoError(t, ch.Send(ctx, 7))

	ch.Cancel(nil)

	_, err := ch.Receive(ctx)
	require.ErrorIs(t, err, corow.ErrChannelCancelled)
	require.Equal(t, []int{7}, undelivered)
}

func TestChannel_Iterator(t *testing.T) {
	ctx := newTestScope(t)
	ch := channel.New[int](channel.NewUnlimited(), channel.OverflowSuspend, nil)
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	ch.Close(nil)

	it := ch.Iterator(ctx)
	var got []int
	for {
		ok, err := it.HasNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, it.Next())
	}
	require.Equal(t, []int{1, 2}, got)
}

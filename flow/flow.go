// Package flow implements the minimal cold-flow core of spec.md §4.10: a
// Flow is a value with one operation (Collect), a Collector is a value
// with one operation (Emit), and both are suspending.
package flow

import (
	"github.com/ygrebnov/corow"
	"github.com/ygrebnov/corow/channel"
)

// Collector receives values emitted by a Flow's producer.
type Collector[T any] interface {
	Emit(ctx corow.Context, value T) error
}

// CollectorFunc adapts a plain function to a Collector.
type CollectorFunc[T any] func(ctx corow.Context, value T) error

func (f CollectorFunc[T]) Emit(ctx corow.Context, value T) error { return f(ctx, value) }

// Flow is cold: Collect restarts the producer on every call, matching
// spec.md §4.10 ("a flow is cold: collect restarts its production on every
// call").
type Flow[T any] interface {
	Collect(ctx corow.Context, collector Collector[T]) error
}

// FuncFlow adapts a plain producer function to a Flow.
type FuncFlow[T any] func(ctx corow.Context, collector Collector[T]) error

func (f FuncFlow[T]) Collect(ctx corow.Context, collector Collector[T]) error {
	return f(ctx, collector)
}

// New builds a Flow from a producer closure, the common case of defining a
// flow inline around a sequence of Emit calls.
func New[T any](produce func(ctx corow.Context, collector Collector[T]) error) Flow[T] {
	return FuncFlow[T](produce)
}

// safeCollector validates that every Emit happens in the same Context
// Collect was invoked with (spec.md §4.10: "a safe collector validates that
// emissions happen in the same context the collect was invoked in; an
// emission from a different context throws").
type safeCollector[T any] struct {
	inner      Collector[T]
	collectCtx corow.Context
}

// Safe wraps collector so that Collect can detect context-confinement
// violations: a Flow implementation that emits from a context other than
// the one it was handed (e.g. a detached goroutine) gets ErrContextLeak
// instead of a silently misattributed emission.
func Safe[T any](collectCtx corow.Context, collector Collector[T]) Collector[T] {
	return &safeCollector[T]{inner: collector, collectCtx: collectCtx}
}

func (s *safeCollector[T]) Emit(ctx corow.Context, value T) error {
	if ctx != s.collectCtx {
		return ErrContextLeak
	}
	return s.inner.Emit(ctx, value)
}

// Collect runs f's producer with a Safe wrapper around collector, so every
// Flow built through New automatically gets context-confinement checking.
func Collect[T any](ctx corow.Context, f Flow[T], collector Collector[T]) error {
	return f.Collect(ctx, Safe(ctx, collector))
}

// ErrContextLeak is returned by a Safe collector's Emit when called from a
// context other than the one Collect was invoked with.
var ErrContextLeak = safeCollectorError{}

type safeCollectorError struct{}

func (safeCollectorError) Error() string {
	return "corow/flow: emit from a context other than the one collect was invoked with"
}

// FromChannel adapts ch into a Flow: collecting it runs Receive in a loop
// until the channel closes, forwarding every value to the collector
// (spec.md §4.10: "channel-backed flow variants ... forward to the
// collector"). Cancellation or a collector error stops the loop and
// propagates.
func FromChannel[T any](ch *channel.Channel[T]) Flow[T] {
	return FuncFlow[T](func(ctx corow.Context, collector Collector[T]) error {
		for {
			v, err := ch.Receive(ctx)
			if err != nil {
				if err == corow.ErrClosedReceive {
					return nil
				}
				return err
			}
			if err := collector.Emit(ctx, v); err != nil {
				return err
			}
		}
	})
}

// Produce builds a channel-backed Flow from a producer that runs on its own
// job, writing into a channel with the given capacity/overflow policy, and
// forwards every value read back out to the collector on the other end
// (spec.md §4.10's channel-backed flow variant).
func Produce[T any](
	scope corow.Context,
	capacity channel.Capacity,
	overflow channel.Overflow,
	produce func(ctx corow.Context, ch *channel.Channel[T]) error,
) Flow[T] {
	return FuncFlow[T](func(ctx corow.Context, collector Collector[T]) error {
		ch := channel.New[T](capacity, overflow, nil)
		corow.Launch(scope, corow.StartDefault, func(pctx corow.Context) error {
			err := produce(pctx, ch)
			ch.Close(err)
			return err
		})
		return Collect(ctx, FromChannel(ch), collector)
	})
}

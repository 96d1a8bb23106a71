package channel

import "github.com/ygrebnov/corow"

// Iter is a suspending iterator over a Channel's values (spec.md §9
// "generators/iterators"). HasNext suspends until a value is ready or the
// channel closes; Next returns the value HasNext already fetched and is
// only valid immediately after a HasNext call returned (true, nil).
type Iter[T any] struct {
	ch      *Channel[T]
	ctx     corow.Context
	pending T
	has     bool
	done    bool
}

// Iterator returns a fresh suspending iterator over ch, bound to ctx for
// its dispatcher/cancellation.
func (ch *Channel[T]) Iterator(ctx corow.Context) *Iter[T] {
	return &Iter[T]{ch: ch, ctx: ctx}
}

// HasNext suspends until the next value is available, the channel closes,
// or ctx is cancelled.
func (it *Iter[T]) HasNext() (bool, error) {
	if it.done {
		return false, nil
	}
	r := it.ch.ReceiveCatching(it.ctx)
	if r.Closed {
		it.done = true
		if r.Cause != nil && !corow.IsCancellationError(r.Cause) {
			return false, r.Cause
		}
		return false, nil
	}
	it.pending = r.Value
	it.has = true
	return true, nil
}

// Next returns the value fetched by the prior HasNext call. Calling it
// without a preceding successful HasNext returns the zero value.
func (it *Iter[T]) Next() T {
	if !it.has {
		var zero T
		return zero
	}
	it.has = false
	return it.pending
}

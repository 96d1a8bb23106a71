// Package channel implements the channel core described in spec.md §3.5,
// §3.6 and §4.8: a FIFO rendezvous/buffered value pipe built directly on
// corow/queue's lock-free segment queue, where a sender and a receiver
// that reserve the same monotone index meet at the same cell.
package channel

import (
	"fmt"

	"github.com/ygrebnov/corow"
	"github.com/ygrebnov/corow/queue"
)

// CapacityKind selects a channel's buffering strategy (spec.md §3.6).
type CapacityKind uint8

const (
	Rendezvous CapacityKind = iota
	Buffered
	Unlimited
	Conflated
)

// Capacity configures how many values a channel buffers before a sender
// must suspend (or an overflow policy kicks in).
type Capacity struct {
	Kind CapacityKind
	N    int // meaningful only when Kind == Buffered
}

func NewRendezvous() Capacity    { return Capacity{Kind: Rendezvous} }
func NewBuffered(n int) Capacity { return Capacity{Kind: Buffered, N: n} }
func NewUnlimited() Capacity     { return Capacity{Kind: Unlimited} }
func NewConflated() Capacity     { return Capacity{Kind: Conflated} }

// Overflow selects what happens when a buffered channel is full
// (spec.md §4.8 "overflow policies"). It has no effect on Rendezvous or
// Unlimited channels.
type Overflow uint8

const (
	OverflowSuspend Overflow = iota
	OverflowDropOldest
	OverflowDropLatest
)

type noopDisposable struct{}

func (noopDisposable) Dispose() {}

var noopJobHandler corow.Disposable = noopDisposable{}

type cellState uint32

const (
	cellEmpty    cellState = cellState(queue.StateEmpty)
	cellHasValue cellState = iota + 10
	cellSenderWaiting
	cellReceiverWaiting
	cellTaken
	cellCancelled
)

// slot is the payload stored in one queue cell. Exactly one of the waiter
// fields is non-nil depending on cellState.
type slot[T any] struct {
	value        T
	senderCont   *corow.CancellableContinuation[struct{}]
	receiverCont *corow.CancellableContinuation[T]
}

// ReceiveResult is returned by ReceiveCatching: a discriminated outcome
// instead of an error return, per spec.md §4.8.
type ReceiveResult[T any] struct {
	Value  T
	Closed bool
	Cause  error
}

// Channel is a FIFO value pipe between suspending senders and receivers
// (spec.md §3.5, §4.8).
type Channel[T any] struct {
	q           *queue.Queue[slot[T]]
	capacity    Capacity
	overflow    Overflow
	undelivered func(T)

	buffered int64 // best-effort count of unconsumed cellHasValue cells

	closed     bool
	closeCause error
	cancelled  bool
}

// New constructs a Channel with the given capacity and overflow policy.
// undelivered, if non-nil, is invoked for every value the channel evicts
// or drops without delivery (spec.md §5 "resource policy").
func New[T any](capacity Capacity, overflow Overflow, undelivered func(T)) *Channel[T] {
	return &Channel[T]{
		q:           queue.New[slot[T]](),
		capacity:    capacity,
		overflow:    overflow,
		undelivered: undelivered,
	}
}

func (ch *Channel[T]) reportUndelivered(v T) {
	if ch.undelivered != nil {
		ch.undelivered(v)
	}
}

// Send delivers value to a receiver, suspending if none is ready and the
// channel's capacity/overflow policy requires it (spec.md §4.8).
func (ch *Channel[T]) Send(ctx corow.Context, value T) error {
	for {
		if ch.closed {
			if ch.cancelled {
				return corow.ErrChannelCancelled
			}
			return corow.ErrClosedSend
		}

		if ch.tryBufferFastPath(value) {
			return nil
		}

		seg, pos, _ := ch.q.ReserveEnqueue()
		cell := seg.Cell(pos)

		switch channelState(cell.Load()) {
		case cellReceiverWaiting:
			payload := cell.Payload()
			if payload == nil || payload.receiverCont == nil {
				// Racing set-up; fall through to fresh-cell retry below.
				continue
			}
			if !cell.CAS(queue.CellState(cellReceiverWaiting), queue.CellState(cellTaken)) {
				continue
			}
			payload.receiverCont.Resume(value, nil)
			return nil

		case cellEmpty:
			if ch.overflow != OverflowSuspend && ch.capacity.Kind != Rendezvous {
				// Buffer is full and the policy is drop-based: the fast
				// path already handled room; here it means we must
				// overflow rather than suspend.
				if ch.handleDropOverflow(value) {
					return nil
				}
			}
			corow.ReportSendSuspension(ctx)
			cont := corow.NewSuspendingContinuation[struct{}](ctx)
			sl := &slot[T]{value: value, senderCont: cont}
			cell.SetPayload(sl)
			if !cell.CAS(queue.StateEmpty, queue.CellState(cellSenderWaiting)) {
				continue
			}
			var disp corow.Disposable = noopJobHandler
			if j := ctx.Job(); j != nil {
				disp = j.InvokeOnCompletion(false, true, func(cause error) {
					if cause != nil {
						cont.Cancel(cause)
					}
				})
			}
			cont.InvokeOnCancellation(func(cause error) {
				if cell.CAS(queue.CellState(cellSenderWaiting), queue.CellState(cellCancelled)) {
					ch.q.OnCancellation(seg)
					ch.reportUndelivered(value)
					corow.ReportUndelivered(ctx)
				}
			})
			_, err := cont.Await()
			disp.Dispose()
			if err != nil {
				return err
			}
			return nil

		default:
			// Cell already settled by a concurrent cancelled/taken
			// transition; this send never happened at this index, retry
			// with a fresh one.
			continue
		}
	}
}

// channelState narrows a raw queue.CellState back to our local enum for
// switch readability.
func channelState(s queue.CellState) cellState { return cellState(s) }

// tryBufferFastPath stores value directly when the channel's capacity
// allows buffering without a rendezvous (Unlimited, Conflated, or
// Buffered with room). It never suspends.
func (ch *Channel[T]) tryBufferFastPath(value T) bool {
	switch ch.capacity.Kind {
	case Unlimited:
		ch.enqueueBuffered(value)
		return true
	case Conflated:
		ch.conflate(value)
		return true
	case Buffered:
		if ch.buffered < int64(ch.capacity.N) {
			ch.enqueueBuffered(value)
			return true
		}
		return false
	default: // Rendezvous
		return false
	}
}

func (ch *Channel[T]) enqueueBuffered(value T) {
	seg, pos, _ := ch.q.ReserveEnqueue()
	cell := seg.Cell(pos)
	cell.SetPayload(&slot[T]{value: value})
	cell.CAS(queue.StateEmpty, queue.CellState(cellHasValue))
	ch.buffered++
}

// conflate implements the Conflated capacity: at most one buffered value
// survives, the newest always wins, and the displaced value is reported
// undelivered.
func (ch *Channel[T]) conflate(value T) {
	if ch.buffered > 0 {
		ch.evictOldestBuffered()
	}
	ch.enqueueBuffered(value)
}

func (ch *Channel[T]) peekLastBuffered() *slot[T] {
	// Best-effort: walk from head to find the most recent cellHasValue
	// cell. Conflated channels are expected to hold at most one, so this
	// is O(segment) in practice, not O(queue).
	var last *slot[T]
	for seg := ch.q.Head(); seg != nil; seg = seg.Next() {
		for i := 0; i < queue.SegmentSize; i++ {
			c := seg.Cell(i)
			if channelState(c.Load()) == cellHasValue {
				last = c.Payload()
			}
		}
	}
	return last
}

// handleDropOverflow applies OverflowDropOldest/OverflowDropLatest when a
// Buffered channel is at capacity. Returns true if value was handled
// (either buffered after eviction, or dropped) without suspending.
func (ch *Channel[T]) handleDropOverflow(value T) bool {
	switch ch.overflow {
	case OverflowDropLatest:
		ch.reportUndelivered(value)
		return true
	case OverflowDropOldest:
		if ch.evictOldestBuffered() {
			ch.enqueueBuffered(value)
			return true
		}
		return false
	default:
		return false
	}
}

func (ch *Channel[T]) evictOldestBuffered() bool {
	for seg := ch.q.Head(); seg != nil; seg = seg.Next() {
		for i := 0; i < queue.SegmentSize; i++ {
			c := seg.Cell(i)
			if channelState(c.Load()) == cellHasValue {
				if c.CAS(queue.CellState(cellHasValue), queue.CellState(cellTaken)) {
					if old := c.Payload(); old != nil {
						ch.reportUndelivered(old.value)
					}
					ch.buffered--
					return true
				}
			}
		}
	}
	return false
}

// Receive waits for the next value, suspending if none is ready
// (spec.md §4.8).
func (ch *Channel[T]) Receive(ctx corow.Context) (T, error) {
	r := ch.ReceiveCatching(ctx)
	if r.Closed {
		var zero T
		if r.Cause != nil {
			return zero, r.Cause
		}
		return zero, corow.ErrClosedReceive
	}
	return r.Value, nil
}

// ReceiveCatching is like Receive but never returns the closed/cancelled
// case as an error; it is reported via ReceiveResult.Closed instead
// (spec.md §4.8).
func (ch *Channel[T]) ReceiveCatching(ctx corow.Context) ReceiveResult[T] {
	for {
		if v, ok := ch.tryTakeBuffered(); ok {
			return ReceiveResult[T]{Value: v}
		}

		seg, pos, _ := ch.q.ReserveDequeue()
		cell := seg.Cell(pos)

		if ch.closed && channelState(cell.Load()) == cellEmpty {
			if cell.CAS(queue.StateEmpty, queue.CellState(cellCancelled)) {
				return ReceiveResult[T]{Closed: true, Cause: ch.closeCause}
			}
		}

		st := channelState(cell.Load())
		switch st {
		case cellSenderWaiting:
			payload := cell.Payload()
			if payload == nil || payload.senderCont == nil {
				continue
			}
			if !cell.CAS(queue.CellState(cellSenderWaiting), queue.CellState(cellTaken)) {
				continue
			}
			payload.senderCont.Resume(struct{}{}, nil)
			return ReceiveResult[T]{Value: payload.value}

		case cellHasValue:
			if !cell.CAS(queue.CellState(cellHasValue), queue.CellState(cellTaken)) {
				continue
			}
			payload := cell.Payload()
			ch.buffered--
			var v T
			if payload != nil {
				v = payload.value
			}
			return ReceiveResult[T]{Value: v}

		case cellEmpty:
			corow.ReportReceiveSuspension(ctx)
			cont := corow.NewSuspendingContinuation[T](ctx)
			sl := &slot[T]{receiverCont: cont}
			cell.SetPayload(sl)
			if !cell.CAS(queue.StateEmpty, queue.CellState(cellReceiverWaiting)) {
				continue
			}
			var disp corow.Disposable = noopJobHandler
			if j := ctx.Job(); j != nil {
				disp = j.InvokeOnCompletion(false, true, func(cause error) {
					if cause != nil {
						cont.Cancel(cause)
					}
				})
			}
			cont.InvokeOnCancellation(func(cause error) {
				if cell.CAS(queue.CellState(cellReceiverWaiting), queue.CellState(cellCancelled)) {
					ch.q.OnCancellation(seg)
				}
			})
			v, err := cont.Await()
			disp.Dispose()
			if err != nil {
				if corow.IsCancellationError(err) && ch.closed {
					return ReceiveResult[T]{Closed: true, Cause: ch.closeCause}
				}
				return ReceiveResult[T]{Closed: true, Cause: err}
			}
			return ReceiveResult[T]{Value: v}

		default:
			continue
		}
	}
}

func (ch *Channel[T]) tryTakeBuffered() (T, bool) {
	var zero T
	if ch.buffered <= 0 {
		return zero, false
	}
	for seg := ch.q.Head(); seg != nil; seg = seg.Next() {
		for i := 0; i < queue.SegmentSize; i++ {
			c := seg.Cell(i)
			if channelState(c.Load()) == cellHasValue {
				if c.CAS(queue.CellState(cellHasValue), queue.CellState(cellTaken)) {
					ch.buffered--
					if p := c.Payload(); p != nil {
						return p.value, true
					}
					return zero, true
				}
			}
		}
	}
	return zero, false
}

// TrySend attempts a non-suspending send; it never blocks (spec.md §4.8
// "try_send never suspends").
func (ch *Channel[T]) TrySend(value T) error {
	if ch.closed {
		if ch.cancelled {
			return corow.ErrChannelCancelled
		}
		return corow.ErrClosedSend
	}
	if ch.tryBufferFastPath(value) {
		return nil
	}
	return fmt.Errorf("corow: channel send would block")
}

// TryReceive attempts a non-suspending receive (spec.md §4.8).
func (ch *Channel[T]) TryReceive() (T, error) {
	var zero T
	if v, ok := ch.tryTakeBuffered(); ok {
		return v, nil
	}
	if ch.closed {
		if ch.cancelled {
			return zero, corow.ErrChannelCancelled
		}
		return zero, corow.ErrClosedReceive
	}
	return zero, fmt.Errorf("corow: channel receive would block")
}

// Close idempotently closes the channel: future sends fail and buffered
// values remain deliverable (spec.md §4.8). Close does not wake senders
// already suspended when it runs: each stays suspended until a receiver
// takes its value or its job is cancelled.
func (ch *Channel[T]) Close(cause error) bool {
	if ch.closed {
		return false
	}
	ch.closed = true
	ch.closeCause = cause
	return true
}

// Cancel closes the channel and drains its buffer, failing all pending
// receives and reporting every discarded buffered value as undelivered
// (spec.md §4.8).
func (ch *Channel[T]) Cancel(cause error) bool {
	if cause == nil {
		cause = corow.ErrChannelCancelled
	}
	first := ch.Close(cause)
	ch.cancelled = true
	for seg := ch.q.Head(); seg != nil; seg = seg.Next() {
		for i := 0; i < queue.SegmentSize; i++ {
			c := seg.Cell(i)
			switch channelState(c.Load()) {
			case cellHasValue:
				if c.CAS(queue.CellState(cellHasValue), queue.CellState(cellCancelled)) {
					if p := c.Payload(); p != nil {
						ch.reportUndelivered(p.value)
					}
					ch.buffered--
				}
			case cellReceiverWaiting:
				if c.CAS(queue.CellState(cellReceiverWaiting), queue.CellState(cellCancelled)) {
					if p := c.Payload(); p != nil && p.receiverCont != nil {
						p.receiverCont.Cancel(cause)
					}
				}
			case cellSenderWaiting:
				if c.CAS(queue.CellState(cellSenderWaiting), queue.CellState(cellCancelled)) {
					if p := c.Payload(); p != nil {
						ch.reportUndelivered(p.value)
						if p.senderCont != nil {
							p.senderCont.Cancel(cause)
						}
					}
				}
			}
		}
	}
	return first
}

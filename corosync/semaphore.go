// Package corosync provides synchronization primitives built on the same
// lock-free segment queue as the channel core: a counting Semaphore and a
// Mutex built atop it (spec.md §4.9). There is no teacher equivalent for
// either; both are grounded directly on spec.md's own algorithm
// description.
package corosync

import (
	"sync/atomic"

	"github.com/ygrebnov/corow"
	"github.com/ygrebnov/corow/queue"
)

type cellState uint32

const (
	cellEmpty  cellState = cellState(queue.StateEmpty)
	cellPermit cellState = iota + 10
	cellWaiting
	cellTaken
	cellCancelled
	cellBroken
)

func view(s queue.CellState) cellState { return cellState(s) }

type waiterSlot struct {
	cont *corow.CancellableContinuation[struct{}]
}

// Semaphore is a counting semaphore with FIFO-fair waiters, built on the
// segment queue so acquire/release never hold a lock across a suspension
// (spec.md §4.9).
type Semaphore struct {
	q         *queue.Queue[waiterSlot]
	permits   atomic.Int64
	spinBound int
}

// NewSemaphore constructs a Semaphore with the given number of initial
// permits. spinBound bounds how many times Release spins waiting for a
// concurrently-arriving Acquire to publish its waiter cell before leaving
// a permit in that cell for the Acquire to take (spec.md §4.9's
// release-before-acquire race).
func NewSemaphore(permits int, spinBound int) *Semaphore {
	s := &Semaphore{q: queue.New[waiterSlot](), spinBound: spinBound}
	s.permits.Store(int64(permits))
	return s
}

// Acquire decrements the permit count; if it remains non-negative the
// call returns immediately, otherwise the caller suspends until a
// matching Release (spec.md §4.9).
func (s *Semaphore) Acquire(ctx corow.Context) error {
	if s.permits.Add(-1) >= 0 {
		return nil
	}

	seg, pos, _ := s.q.ReserveDequeue()
	cell := seg.Cell(pos)

	for i := 0; i < s.spinBound; i++ {
		if view(cell.Load()) == cellPermit {
			if cell.CAS(queue.CellState(cellPermit), queue.CellState(cellTaken)) {
				return nil
			}
		}
	}

	if view(cell.Load()) == cellPermit {
		if cell.CAS(queue.CellState(cellPermit), queue.CellState(cellTaken)) {
			return nil
		}
	}

	cont := corow.NewSuspendingContinuation[struct{}](ctx)
	cell.SetPayload(&waiterSlot{cont: cont})
	if !cell.CAS(queue.StateEmpty, queue.CellState(cellWaiting)) {
		// A release already wrote a permit into this cell between our
		// spin and our CAS; re-check once more.
		if view(cell.Load()) == cellPermit && cell.CAS(queue.CellState(cellPermit), queue.CellState(cellTaken)) {
			return nil
		}
	}

	var disp corow.Disposable = noopDisposable{}
	if j := ctx.Job(); j != nil {
		disp = j.InvokeOnCompletion(false, true, func(cause error) {
			if cause != nil {
				cont.Cancel(cause)
			}
		})
	}
	cont.InvokeOnCancellation(func(cause error) {
		if cell.CAS(queue.CellState(cellWaiting), queue.CellState(cellCancelled)) {
			s.permits.Add(1) // give back the slot this abandoned wait held
		}
	})
	_, err := cont.Await()
	disp.Dispose()
	return err
}

// Release increments the permit count and, if a waiter is queued, wakes
// it (spec.md §4.9).
func (s *Semaphore) Release() {
	if s.permits.Add(1) > 0 {
		return
	}

	seg, pos, _ := s.q.ReserveEnqueue()
	cell := seg.Cell(pos)

	for i := 0; i < s.spinBound; i++ {
		switch view(cell.Load()) {
		case cellWaiting:
			if cell.CAS(queue.CellState(cellWaiting), queue.CellState(cellTaken)) {
				if p := cell.Payload(); p != nil && p.cont != nil {
					p.cont.Resume(struct{}{}, nil)
				}
				return
			}
		case cellEmpty:
			continue
		default:
			return
		}
	}

	if cell.CAS(queue.StateEmpty, queue.CellState(cellPermit)) {
		// The matching acquirer has not published its waiter yet; leave
		// the permit in its cell so that Acquire takes it without
		// suspending.
		return
	}
	// Lost the race to a just-arriving acquirer; retry its cell once.
	if view(cell.Load()) == cellWaiting && cell.CAS(queue.CellState(cellWaiting), queue.CellState(cellTaken)) {
		if p := cell.Payload(); p != nil && p.cont != nil {
			p.cont.Resume(struct{}{}, nil)
		}
	}
}

type noopDisposable struct{}

func (noopDisposable) Dispose() {}

package corosync

import (
	"sync/atomic"

	"github.com/ygrebnov/corow"
)

// Mutex is a semaphore with one permit plus an owner slot (spec.md
// §4.9). A nil owner token disables the owner check; re-entrant Lock by
// the same owner fails deterministically rather than deadlocking.
type Mutex struct {
	sem   *Semaphore
	owner atomic.Value
}

// NewMutex constructs an unlocked Mutex.
func NewMutex(spinBound int) *Mutex {
	return &Mutex{sem: NewSemaphore(1, spinBound)}
}

type ownerBox struct{ v interface{} }

func (m *Mutex) currentOwner() interface{} {
	if b, ok := m.owner.Load().(*ownerBox); ok {
		return b.v
	}
	return nil
}

// Lock acquires the mutex for owner (spec.md §4.9). A second Lock call by
// the same owner before Unlock returns ErrReentrantLock instead of
// deadlocking.
func (m *Mutex) Lock(ctx corow.Context, owner interface{}) error {
	if owner != nil && m.currentOwner() == owner {
		return corow.ErrReentrantLock
	}
	if err := m.sem.Acquire(ctx); err != nil {
		return err
	}
	m.owner.Store(&ownerBox{v: owner})
	return nil
}

// Unlock releases the mutex. If owner is non-nil it must match the
// current holder, matching spec.md §4.9's "unlock(owner): verifies the
// owner matches (nullable owner disables the check)".
func (m *Mutex) Unlock(owner interface{}) error {
	if owner != nil && m.currentOwner() != owner {
		return corow.ErrWrongOwner
	}
	m.owner.Store(&ownerBox{v: nil})
	m.sem.Release()
	return nil
}

package dispatchers

import (
	"sync"

	"github.com/ygrebnov/corow"
)

// TestDispatcher is a manually-driven Dispatcher for deterministic tests,
// grounded on the original kotlinx coroutines test module's TestDispatcher
// (original_source's test/TestDispatcher.hpp): rather than running or
// scheduling a runnable the moment it is dispatched, it queues every one
// and only runs them when the test calls RunCurrent, so assertions can be
// made between batches of work without a real goroutine hop's
// non-determinism. Like the original (whose own comments note its virtual
// clock is not wired up yet), this does not model virtual time; it only
// gives deterministic ordering over what a pooled dispatcher would run
// concurrently.
type TestDispatcher struct {
	corow.BaseDispatcher
	mu    sync.Mutex
	queue []func()
}

// NewTestDispatcher returns an empty TestDispatcher.
func NewTestDispatcher() *TestDispatcher {
	d := &TestDispatcher{}
	d.BaseDispatcher.Impl = d
	return d
}

func (d *TestDispatcher) MustDispatch(corow.Context) bool { return true }

func (d *TestDispatcher) Dispatch(_ corow.Context, run func()) {
	d.mu.Lock()
	d.queue = append(d.queue, run)
	d.mu.Unlock()
}

// RunCurrent runs every runnable queued so far, including ones newly
// queued by runnables this call itself executes, matching the original's
// execute_tasks loop.
func (d *TestDispatcher) RunCurrent() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		next()
	}
}

// Pending reports how many runnables are queued and not yet run.
func (d *TestDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *TestDispatcher) Limited(n int, name string) corow.Dispatcher {
	return &limitedDispatcher{backing: d, sem: newLimiter(n), name: name}
}

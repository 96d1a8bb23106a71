package dispatchers

import (
	"github.com/ygrebnov/corow"
	"github.com/ygrebnov/corow/corosync"
)

// limitedDispatcher wraps another dispatcher so that at most n of its
// runnables execute concurrently, backed by corosync.Semaphore
// (SPEC_FULL.md §4.11's "limited(n, name) wraps the pool behind a bounded
// semaphore"). It implements Dispatcher directly rather than through
// BaseDispatcher, since YieldDispatch/Intercept must also pass through
// the semaphore gate, not just Dispatch.
type limitedDispatcher struct {
	backing corow.Dispatcher
	sem     *corosync.Semaphore
	name    string
}

func newLimiter(n int) *corosync.Semaphore {
	return corosync.NewSemaphore(n, 64)
}

func (d *limitedDispatcher) MustDispatch(ctx corow.Context) bool { return d.backing.MustDispatch(ctx) }

// ThreadsLoop delegates to the wrapped dispatcher, so limiting an
// unconfined dispatcher keeps routing through its depth-bounding loop.
func (d *limitedDispatcher) ThreadsLoop() bool {
	lt, ok := d.backing.(corow.LoopThreaded)
	return ok && lt.ThreadsLoop()
}

func (d *limitedDispatcher) Dispatch(ctx corow.Context, run func()) {
	d.backing.Dispatch(ctx, func() {
		if err := d.sem.Acquire(ctx); err != nil {
			handler := ctx.ExceptionHandler()
			de := &corow.DispatchError{Dispatcher: d.name, Cause: err}
			if handler != nil {
				handler(ctx, de)
			} else {
				corow.DefaultExceptionHandler(ctx, de)
			}
			return
		}
		defer d.sem.Release()
		run()
	})
}

func (d *limitedDispatcher) YieldDispatch(ctx corow.Context, run func()) {
	d.Dispatch(ctx, run)
}

func (d *limitedDispatcher) Intercept(ctx corow.Context, token interface{}, run func()) func() {
	return func() { d.Dispatch(ctx, run) }
}

func (d *limitedDispatcher) Limited(n int, name string) corow.Dispatcher {
	return &limitedDispatcher{backing: d.backing, sem: newLimiter(n), name: name}
}

// Package dispatchers provides the concrete Dispatcher implementations a
// host program wires into corow.NewScope: a worker-pool dispatcher
// (grounded on the teacher's pool package), the unconfined dispatcher,
// an immediate/main-thread boundary, and a process-wide default
// (SPEC_FULL.md §4.11).
package dispatchers

import (
	"runtime"
	"time"

	"github.com/ygrebnov/corow"
	"github.com/ygrebnov/corow/internal/unconfined"
	"github.com/ygrebnov/corow/pool"
)

// PoolOption configures a pooled dispatcher, mirroring the teacher's
// functional-options pool constructors.
type PoolOption func(*pooledDispatcher)

// WithFixedWorkers sizes the pool to a fixed worker count, matching the
// teacher's pool.NewFixed.
func WithFixedWorkers(n int) PoolOption {
	return func(d *pooledDispatcher) { d.workers = n; d.dynamic = false }
}

// WithDynamicWorkers selects the teacher's uncapped pool.NewDynamic:
// Dispatch never waits for a free slot. max is recorded on the dispatcher
// but does not limit how many runnables run at once.
func WithDynamicWorkers(max int) PoolOption {
	return func(d *pooledDispatcher) { d.workers = max; d.dynamic = true }
}

// WithName sets the pool's diagnostic name, used in DispatchError values.
func WithName(name string) PoolOption {
	return func(d *pooledDispatcher) { d.name = name }
}

type pooledDispatcher struct {
	corow.BaseDispatcher
	name    string
	workers int
	dynamic bool
	pool    pool.Pool
}

// NewPooled returns a Dispatcher backed by a worker pool (spec.md §4.2;
// SPEC_FULL.md §4.11), generalized from the teacher's "check out a
// reusable object, do work, check it back in" pool to "check out a
// concurrency slot, run a dispatched-task runnable on a fresh goroutine,
// return the slot on completion".
func NewPooled(opts ...PoolOption) corow.Dispatcher {
	d := &pooledDispatcher{name: "pooled", workers: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(d)
	}
	if d.dynamic {
		d.pool = pool.NewDynamic()
	} else {
		d.pool = pool.NewFixed(uint(d.workers))
	}
	d.BaseDispatcher.Impl = d
	return d
}

func (d *pooledDispatcher) MustDispatch(corow.Context) bool { return true }

func (d *pooledDispatcher) Dispatch(ctx corow.Context, run func()) {
	created := time.Now()
	d.pool.Get()
	go func() {
		defer d.pool.Put()
		corow.ReportDispatchLatency(ctx, created)
		defer func() {
			if r := recover(); r != nil {
				handler := ctx.ExceptionHandler()
				err := &corow.DispatchError{Dispatcher: d.name, Cause: errPanic(r)}
				if handler != nil {
					handler(ctx, err)
				} else {
					corow.DefaultExceptionHandler(ctx, err)
				}
			}
		}()
		run()
	}()
}

func (d *pooledDispatcher) Limited(n int, name string) corow.Dispatcher {
	return &limitedDispatcher{backing: d, sem: newLimiter(n), name: name}
}

// Default returns a process-wide pooled dispatcher sized off
// runtime.GOMAXPROCS(0), matching how the teacher's dynamic pool defaults
// when MaxWorkers == 0.
func Default() corow.Dispatcher {
	return defaultDispatcher
}

var defaultDispatcher = NewPooled(WithName("default"))

// Unconfined is the singleton unconfined dispatcher (spec.md §4.4):
// must_dispatch is false, and dispatch runs inline through the
// loop threaded on Context (internal/unconfined, SPEC_FULL.md §9).
var Unconfined corow.Dispatcher = unconfinedDispatcher{}

type unconfinedDispatcher struct{}

func (unconfinedDispatcher) MustDispatch(corow.Context) bool { return false }

// ThreadsLoop marks unconfinedDispatcher as LoopThreaded: dispatchFor must
// route through Dispatch even when MustDispatch reports false, or a chain
// of nested unconfined resumes would recurse directly on the Go call
// stack instead of draining through the loop (spec.md §4.4).
func (unconfinedDispatcher) ThreadsLoop() bool { return true }

func (unconfinedDispatcher) Dispatch(ctx corow.Context, run func()) {
	if loop, ok := corow.GetUnconfinedLoop(ctx); ok {
		loop.Dispatch(run)
		return
	}
	unconfined.NewLoop().Dispatch(run)
}

func (unconfinedDispatcher) YieldDispatch(ctx corow.Context, run func()) {
	unconfinedDispatcher{}.Dispatch(ctx, run)
}

func (unconfinedDispatcher) Intercept(_ corow.Context, _ interface{}, run func()) func() { return run }

func (unconfinedDispatcher) Limited(n int, name string) corow.Dispatcher {
	return &limitedDispatcher{backing: unconfinedDispatcher{}, sem: newLimiter(n), name: name}
}

// Immediate wraps a host-supplied main-thread dispatcher with the "already
// there, run inline" boundary spec.md §6 describes for main-thread
// integrations. The actual main-thread pump is out of scope (spec.md §1);
// this takes the real one as a collaborator.
func Immediate(main corow.Dispatcher) corow.Dispatcher {
	return &immediateDispatcher{main: main}
}

type immediateDispatcher struct {
	main   corow.Dispatcher
	onMain onMainFlag
}

type onMainFlag struct{ v bool }

func (d *immediateDispatcher) MustDispatch(ctx corow.Context) bool {
	if d.onMain.v {
		return false
	}
	return d.main.MustDispatch(ctx)
}

func (d *immediateDispatcher) Dispatch(ctx corow.Context, run func()) {
	if d.onMain.v {
		run()
		return
	}
	d.main.Dispatch(ctx, func() {
		d.onMain.v = true
		defer func() { d.onMain.v = false }()
		run()
	})
}

func (d *immediateDispatcher) YieldDispatch(ctx corow.Context, run func()) {
	d.Dispatch(ctx, run)
}

func (d *immediateDispatcher) Intercept(ctx corow.Context, token interface{}, run func()) func() {
	return func() { d.Dispatch(ctx, run) }
}

func (d *immediateDispatcher) Limited(n int, name string) corow.Dispatcher {
	return d.main.Limited(n, name)
}

func errPanic(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v interface{} }

func (p *panicError) Error() string { return "panic in dispatched runnable" }

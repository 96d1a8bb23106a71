package corow

import (
	"fmt"
	"sync"
)

// Dispatcher decides where a continuation body runs (spec.md §4.2).
type Dispatcher interface {
	// MustDispatch reports whether the caller must hand off execution
	// rather than run inline on the current goroutine.
	MustDispatch(ctx Context) bool

	// Dispatch enqueues run for eventual execution. It must not panic to
	// the caller; failures are routed to ctx's ExceptionHandler as a
	// DispatchError.
	Dispatch(ctx Context, run func())

	// YieldDispatch is like Dispatch but signals a preference that other
	// pending work runs first. The default implementation (see
	// BaseDispatcher) falls back to Dispatch.
	YieldDispatch(ctx Context, run func())

	// Intercept wraps run into a dispatcher-bound resume function so that
	// subsequent resumes of the same logical continuation flow through
	// this dispatcher. Repeat calls for the same token return the same
	// wrapper.
	Intercept(ctx Context, token interface{}, run func()) func()

	// Limited returns a view of this dispatcher that executes at most n
	// runnables concurrently. The view is not a resource; discarding it
	// is safe.
	Limited(n int, name string) Dispatcher
}

// BaseDispatcher supplies the spec-mandated defaults (YieldDispatch falling
// back to Dispatch, Intercept memoizing per token) so concrete dispatchers
// only need to implement MustDispatch/Dispatch/Limited.
type BaseDispatcher struct {
	Impl interface {
		MustDispatch(ctx Context) bool
		Dispatch(ctx Context, run func())
		Limited(n int, name string) Dispatcher
	}
	intercepted sync.Map
}

func (b *BaseDispatcher) MustDispatch(ctx Context) bool    { return b.Impl.MustDispatch(ctx) }
func (b *BaseDispatcher) Dispatch(ctx Context, run func()) { b.Impl.Dispatch(ctx, run) }

func (b *BaseDispatcher) YieldDispatch(ctx Context, run func()) {
	b.Impl.Dispatch(ctx, run)
}

func (b *BaseDispatcher) Intercept(ctx Context, token interface{}, run func()) func() {
	if w, ok := b.intercepted.Load(token); ok {
		return w.(func())
	}
	wrapped := func() { b.Impl.Dispatch(ctx, run) }
	actual, _ := b.intercepted.LoadOrStore(token, wrapped)
	return actual.(func())
}

func (b *BaseDispatcher) Limited(n int, name string) Dispatcher { return b.Impl.Limited(n, name) }

// LoopThreaded is implemented by dispatchers whose Dispatch always routes
// the runnable through a depth-bounding event loop (spec.md §4.4), rather
// than only handing off when MustDispatch says a hop is required.
// dispatchFor calls Dispatch for these even when MustDispatch reports
// false, so the loop is never bypassed by the "run inline" fast path.
type LoopThreaded interface {
	ThreadsLoop() bool
}

// ResumeMode is the dispatched-task resume mode (spec.md §4.3).
type ResumeMode uint8

const (
	ResumeUninitialised ResumeMode = iota
	ResumeAtomic
	ResumeCancellable
	ResumeCancellableReusable
	ResumeUndispatched
)

// DispatchedTask wraps a continuation resume with its mode and runs it
// under the job's prompt-cancellation check (spec.md §4.3). The "install
// context hooks" step is a no-op in this Go realization because there is
// no OS-thread-local to restore; Context is passed explicitly to resume,
// which is the idiomatic Go substitute (SPEC_FULL.md §9).
type DispatchedTask struct {
	Mode   ResumeMode
	Ctx    Context
	Job    *job // nil for resumes not tied to a Job (e.g. a bare Background timer)
	Resume func(cancelled bool, cause error)
}

// Run executes the task body, applying prompt cancellation for
// cancellable/cancellable-reusable modes (spec.md §4.3 step 3): if the
// associated job is no longer active by the time this runs, the result is
// replaced by the job's cancellation cause before the continuation body
// observes it.
func (t *DispatchedTask) Run() {
	defer func() {
		if r := recover(); r != nil {
			reportFatal(t.Ctx, "dispatched-task-run", fmt.Errorf("panic: %v", r))
		}
	}()

	cancelled := false
	var cause error
	if (t.Mode == ResumeCancellable || t.Mode == ResumeCancellableReusable) && t.Job != nil {
		if !t.Job.IsActive() {
			cause = t.Job.Cause()
			if cause != nil {
				cancelled = true
			}
		}
	}
	t.Resume(cancelled, cause)
}

// dispatchFor schedules task through ctx's Dispatcher, or runs it inline
// when no dispatcher is installed or the dispatcher does not require a
// hand-off. A LoopThreaded dispatcher (the unconfined one) always goes
// through Dispatch, even when MustDispatch reports false, so a nested
// unconfined resume always passes through the depth-bounding loop instead
// of recursing directly on the Go call stack.
func dispatchFor(ctx Context, task *DispatchedTask) {
	d := ctx.Dispatcher()
	if d == nil {
		task.Run()
		return
	}
	if task.Mode == ResumeUndispatched {
		task.Run()
		return
	}
	needsDispatch := d.MustDispatch(ctx)
	if lt, ok := d.(LoopThreaded); ok && lt.ThreadsLoop() {
		needsDispatch = true
	}
	if !needsDispatch {
		task.Run()
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				reportDispatchPanic(ctx, d, r)
			}
		}()
		d.Dispatch(ctx, task.Run)
	}()
}

func reportFatal(ctx Context, invariant string, err error) {
	fe := &FatalError{Invariant: invariant, Cause: err}
	if ctx != nil {
		if h := ctx.ExceptionHandler(); h != nil {
			h(ctx, fe)
		} else {
			DefaultExceptionHandler(ctx, fe)
		}
	} else {
		DefaultExceptionHandler(ctx, fe)
	}
	LastResortReporter(fe)
}

func reportDispatchPanic(ctx Context, d Dispatcher, r interface{}) {
	de := &DispatchError{Dispatcher: fmt.Sprintf("%T", d), Cause: fmt.Errorf("panic: %v", r)}
	if h := ctx.ExceptionHandler(); h != nil {
		h(ctx, de)
		return
	}
	DefaultExceptionHandler(ctx, de)
}

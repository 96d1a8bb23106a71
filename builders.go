package corow

import (
	"sync"
	"time"

	"github.com/ygrebnov/corow/internal/unconfined"
)

// StartMode selects how a launched job begins running, mirroring the four
// start modes a structured-concurrency builder offers (SPEC_FULL.md §6):
// immediate dispatch, deferred-until-first-Join, atomic (uncancellable until
// its first suspension point), and inline on the launching goroutine.
type StartMode uint8

const (
	// StartDefault dispatches the body immediately through the scope's
	// Dispatcher.
	StartDefault StartMode = iota
	// StartLazy builds the job but defers running its body until the
	// first Join/Await call observes it.
	StartLazy
	// StartAtomic dispatches immediately like StartDefault, but the body
	// runs with ResumeAtomic semantics: a cancellation delivered before
	// the body's first suspension point is deferred rather than applied
	// promptly (spec.md §4.3's ResumeMode family).
	StartAtomic
	// StartUndispatched runs the body inline on the calling goroutine up
	// to its first suspension point, matching ResumeUndispatched.
	StartUndispatched
)

// Deferred is the handle Async returns: a Job that also carries a typed
// result, observed through Await (spec.md §4.7's Deferred<T>).
type Deferred[T any] interface {
	Job
	// Await blocks until the deferred value completes, returning its
	// result or the job's cancellation/failure cause.
	Await(ctx Context) (T, error)
}

type deferredJob[T any] struct {
	*job
	once   sync.Once
	result T
	err    error
}

func (d *deferredJob[T]) Await(ctx Context) (T, error) {
	if err := d.job.Join(ctx); err != nil {
		var zero T
		return zero, err
	}
	if cause := d.job.Cause(); cause != nil {
		var zero T
		return zero, cause
	}
	return d.result, d.err
}

// newChildJob builds a job attached as a structured child of ctx's current
// Job (if any), honoring StartLazy by not calling Start() until the caller
// is ready to run the body.
func newChildJob(ctx Context, name string, supervisor bool) (*job, Context) {
	parentJob, _ := ctx.Job().(*job)
	cj := newJob(name, parentJob, false, supervisor, nil)
	var childCtx Context = ctx.Plus(Element{Key: JobKey, Value: Job(cj)})
	childCtx = ensureUnconfinedLoop(childCtx)
	if parentJob != nil {
		parentJob.AttachChild(cj)
	}
	return cj, childCtx
}

// ensureUnconfinedLoop installs a fresh unconfined loop on ctx if it does
// not already carry one. NewScope installs one at the root, so this is
// normally a no-op; it matters for a Context that reaches a builder
// without ever flowing through NewScope's root (e.g. handed across an
// explicit goroutine boundary by caller code), so that chain still gets
// its own loop instead of silently skipping depth-bounding.
func ensureUnconfinedLoop(ctx Context) Context {
	if _, ok := GetUnconfinedLoop(ctx); ok {
		return ctx
	}
	return WithUnconfinedLoop(ctx, unconfined.NewLoop())
}

func runBody(ctx Context, cj *job, mode StartMode, body func()) {
	// A ResumeCancellable task reports cancelled when the job was cancelled
	// before the task ran; the body is then skipped.
	resume := func(cancelled bool, _ error) {
		if !cancelled {
			body()
		}
	}
	switch mode {
	case StartUndispatched:
		cj.Start()
		body()
	case StartLazy:
		// Started lazily by the first Join; see Job below for the
		// trigger (delegated through job.onStart, set at construction).
		cj.onStart = func() {
			dispatchFor(ctx, &DispatchedTask{Mode: ResumeCancellable, Ctx: ctx, Job: cj, Resume: resume})
		}
	default:
		resumeMode := ResumeCancellable
		if mode == StartAtomic {
			resumeMode = ResumeAtomic
		}
		cj.Start()
		dispatchFor(ctx, &DispatchedTask{Mode: resumeMode, Ctx: ctx, Job: cj, Resume: resume})
	}
}

// Launch starts body as a structured child of scope's Job (spec.md §6) and
// returns its Job handle; with StartUndispatched or an inline dispatcher
// the body has already run when Launch returns. A non-nil error or a
// recovered panic from body becomes the job's cause, readable through
// Job.Cause after Join, and cancels a non-supervisor parent; it is not
// passed to the scope's ExceptionHandler.
func Launch(scope Context, start StartMode, body func(Context) error) Job {
	cj, childCtx := newChildJob(scope, "", false)
	runBody(scope, cj, start, func() {
		err := runGuarded(childCtx, cj, body)
		if err != nil {
			cj.Cancel(err)
		}
		cj.Complete(nil)
	})
	return cj
}

// Async starts body as a structured child of scope's Job and returns a
// Deferred[T] carrying its eventual typed result (spec.md §6).
func Async[T any](scope Context, start StartMode, body func(Context) (T, error)) Deferred[T] {
	cj, childCtx := newChildJob(scope, "", false)
	d := &deferredJob[T]{job: cj}
	runBody(scope, cj, start, func() {
		v, err := runGuardedValue(childCtx, cj, body)
		d.result, d.err = v, err
		if err != nil {
			cj.Cancel(err)
		}
		cj.Complete(v)
	})
	return d
}

// runGuarded recovers a panicking body into the job's cancellation cause,
// matching spec.md §7 category 2 (application failures propagate through
// the job tree rather than crashing the dispatcher goroutine).
func runGuarded(ctx Context, cj *job, body func(Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errFromRecover(r)
		}
	}()
	return body(ctx)
}

func runGuardedValue[T any](ctx Context, cj *job, body func(Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, errFromRecover(r)
		}
	}()
	return body(ctx)
}

// WithContext runs block synchronously, folding the given ctx's Dispatcher
// into a fresh child job, and returns its result (spec.md §6's "withContext"
// analogue for switching dispatchers for the duration of a call).
func WithContext[T any](ctx Context, block func(Context) (T, error)) (T, error) {
	cj, childCtx := newChildJob(ctx, "", false)
	cj.Start()
	v, err := runGuardedValue(childCtx, cj, block)
	cj.Complete(v)
	if err != nil {
		cj.Cancel(err)
	}
	if joinErr := cj.Join(ctx); joinErr != nil {
		var zero T
		return zero, joinErr
	}
	return v, err
}

// Delay suspends the caller for d, or until ctx's job is cancelled,
// whichever happens first (spec.md §4.8).
func Delay(ctx Context, d time.Duration) error {
	cont := newContinuation[struct{}](ctx)
	timer := time.AfterFunc(d, func() { cont.Resume(struct{}{}, nil) })
	var j *job
	if jb := ctx.Job(); jb != nil {
		j, _ = jb.(*job)
	}
	var disp Disposable = noopDisposable
	if j != nil {
		disp = j.InvokeOnCompletion(true, true, func(cause error) { cont.Cancel(cause) })
	}
	defer disp.Dispose()
	defer timer.Stop()
	_, err := cont.await()
	return err
}

// Yield gives the scope's Dispatcher a chance to run other pending work
// before the caller continues (spec.md §4.8).
func Yield(ctx Context) error {
	d := ctx.Dispatcher()
	if d == nil {
		return nil
	}
	cont := newContinuation[struct{}](ctx)
	d.YieldDispatch(ctx, func() { cont.ResumeUndispatched(struct{}{}, nil) })
	_, err := cont.await()
	return err
}

// CoroutineScope runs block with a fresh non-supervisor child job: a
// failure in any structured child cancels the whole scope and propagates
// out of CoroutineScope once every child has unwound (spec.md §4.7's
// coroutineScope).
func CoroutineScope[T any](ctx Context, block func(Context) (T, error)) (T, error) {
	return runScope(ctx, false, block)
}

// SupervisorScope runs block with a fresh supervisor child job: a failing
// child does not cancel its siblings, matching spec.md §4.7's
// supervisorScope.
func SupervisorScope[T any](ctx Context, block func(Context) (T, error)) (T, error) {
	return runScope(ctx, true, block)
}

func runScope[T any](ctx Context, supervisor bool, block func(Context) (T, error)) (T, error) {
	cj, childCtx := newChildJob(ctx, "", supervisor)
	cj.Start()
	v, err := runGuardedValue(childCtx, cj, block)
	cj.Complete(v)
	if err != nil {
		cj.Cancel(err)
	}
	shutdown := newScopeShutdown(ctx, cj, func(cause error) { cj.Cancel(cause) }, nil)
	if joinErr := shutdown.Close(err); joinErr != nil {
		var zero T
		return zero, joinErr
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// WithTimeout runs block under a child job cancelled after d with
// ErrTimeout if it has not completed by then (spec.md §4.8).
func WithTimeout[T any](ctx Context, d time.Duration, block func(Context) (T, error)) (T, error) {
	cj, childCtx := newChildJob(ctx, "", false)
	cj.Start()
	timer := time.AfterFunc(d, func() { cj.Cancel(ErrTimeout) })
	v, err := runGuardedValue(childCtx, cj, block)
	timer.Stop()
	cj.Complete(v)
	if err != nil {
		cj.Cancel(err)
	}
	if joinErr := cj.Join(ctx); joinErr != nil {
		var zero T
		return zero, joinErr
	}
	if cause := cj.Cause(); cause != nil && IsCancellationError(cause) {
		var zero T
		return zero, cause
	}
	return v, err
}

package corow

import (
	"sync/atomic"
)

// continuationDecision is the terminal-commit gate for a
// CancellableContinuation (spec.md §4.6: active/cancelled/resumed).
type continuationDecision int32

const (
	decisionUndecided continuationDecision = iota
	decisionResumed
	decisionCancelled
)

// CancellableContinuation is the suspend/resume primitive that bridges
// callback-shaped sources into the structured task graph (spec.md §3.4,
// §4.6). A single instance commits at most once, to resumed or cancelled;
// whichever writer wins that race runs its side effects, the other is a
// no-op.
type CancellableContinuation[T any] struct {
	ctx      Context
	job      *job
	decision atomic.Int32
	resultCh chan result[T]

	cancelInstalled atomic.Bool
	cancelHandler   func(cause error)
	cancelCause     atomic.Pointer[causeBox]

	reusable atomic.Bool
}

type causeBox struct{ err error }

type result[T any] struct {
	value T
	err   error
}

// NewSuspendingContinuation constructs a CancellableContinuation bound to
// ctx, for use by collaborators outside this package (e.g. corow/channel,
// corow/corosync) that need their own suspension points while honoring
// the same prompt-cancellation contract as Job.Join (spec.md §4.6).
func NewSuspendingContinuation[T any](ctx Context) *CancellableContinuation[T] {
	return newContinuation[T](ctx)
}

func newContinuation[T any](ctx Context) *CancellableContinuation[T] {
	var j *job
	if jb := ctx.Job(); jb != nil {
		j, _ = jb.(*job)
	}
	return &CancellableContinuation[T]{
		ctx:      ctx,
		job:      j,
		resultCh: make(chan result[T], 1),
	}
}

// Context returns the context the continuation was created with.
func (c *CancellableContinuation[T]) Context() Context { return c.ctx }

// Resume schedules a successful resumption with value through ctx's
// dispatcher, honoring prompt cancellation (spec.md §4.3 step 3, §4.6): if
// the owning job is cancelled before this dispatched delivery actually
// runs, the consumer observes the cancellation cause instead of value.
func (c *CancellableContinuation[T]) Resume(value T, err error) {
	task := &DispatchedTask{
		Mode: ResumeCancellable,
		Ctx:  c.ctx,
		Job:  c.job,
		Resume: func(cancelled bool, cause error) {
			if cancelled {
				c.deliver(result[T]{err: cause}, decisionCancelled)
				return
			}
			c.deliver(result[T]{value: value, err: err}, decisionResumed)
		},
	}
	dispatchFor(c.ctx, task)
}

// ResumeUndispatched runs the resume body inline on the calling goroutine,
// for the "undispatched" start mode (spec.md §6).
func (c *CancellableContinuation[T]) ResumeUndispatched(value T, err error) {
	c.deliver(result[T]{value: value, err: err}, decisionResumed)
}

func (c *CancellableContinuation[T]) deliver(r result[T], as continuationDecision) {
	if !c.decision.CompareAndSwap(int32(decisionUndecided), int32(as)) {
		return
	}
	c.resultCh <- r
}

// Cancel implements spec.md §4.6's cancel(cause): CAS to cancelled; the
// winner runs the installed cancellation handler. Returns whether this
// call won the race.
func (c *CancellableContinuation[T]) Cancel(cause error) bool {
	if cause == nil {
		cause = ErrCancelled
	}
	if !c.decision.CompareAndSwap(int32(decisionUndecided), int32(decisionCancelled)) {
		return false
	}
	c.cancelCause.Store(&causeBox{err: cause})
	if c.cancelHandler != nil {
		c.invokeCancelHandlerSafely(cause)
	}
	var zero T
	c.resultCh <- result[T]{value: zero, err: cause}
	return true
}

func (c *CancellableContinuation[T]) invokeCancelHandlerSafely(cause error) {
	defer func() {
		if r := recover(); r != nil {
			reportFatal(c.ctx, "cancellation-handler", errFromRecover(r))
		}
	}()
	c.cancelHandler(cause)
}

// InvokeOnCancellation installs handler, exactly once. If the continuation
// is already cancelled, handler runs synchronously before this call
// returns (spec.md §4.6).
func (c *CancellableContinuation[T]) InvokeOnCancellation(handler func(cause error)) {
	if !c.cancelInstalled.CompareAndSwap(false, true) {
		return
	}
	c.cancelHandler = handler
	if continuationDecision(c.decision.Load()) == decisionCancelled {
		if box := c.cancelCause.Load(); box != nil {
			c.invokeCancelHandlerSafely(box.err)
		}
	}
}

// await blocks the calling goroutine until the continuation settles
// (spec.md §5: a goroutine parking on a channel is this library's Go
// realization of a suspension point, see SPEC_FULL.md §9). It also honors
// ctx.Std()'s own cancellation, so a continuation bound to a context whose
// embedded standard context is cancelled out-of-band still unblocks.
// Await is the exported form of await, for collaborators outside this
// package that need to park on their own CancellableContinuation (e.g.
// corow/channel's Send/Receive).
func (c *CancellableContinuation[T]) Await() (T, error) {
	return c.await()
}

func (c *CancellableContinuation[T]) await() (T, error) {
	select {
	case r := <-c.resultCh:
		return r.value, r.err
	case <-c.ctx.Std().Done():
		c.Cancel(c.ctx.Std().Err())
		r := <-c.resultCh
		return r.value, r.err
	}
}

func errFromRecover(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValue{v: r}
}

type panicValue struct{ v interface{} }

func (p *panicValue) Error() string { return "panic: " + toString(p.v) }

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if e, ok := v.(error); ok {
		return e.Error()
	}
	return "non-string panic value"
}

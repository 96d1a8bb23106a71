package corow

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Disposable is the universal unregister primitive (spec.md §5, "resource
// policy"). Dispose is idempotent.
type Disposable interface {
	Dispose()
}

type disposableFunc func()

func (f disposableFunc) Dispose() {
	if f != nil {
		f()
	}
}

var noopDisposable Disposable = disposableFunc(nil)

// Job is an independently cancellable unit of concurrent work with a
// lifecycle and parent/child relation (spec.md §3.2-3.3, §4.5).
type Job interface {
	// Start transitions Empty-new -> Empty-active. Returns false if the
	// job was already started (or is already terminal).
	Start() bool

	// Cancel requests cancellation with cause. Returns whether this call
	// was the one that moved the job into Finishing/Completed with
	// cancellation (spec.md §4.6 "cancel... Return whether this call was
	// the one that cancelled", restated here for Job per §4.5).
	Cancel(cause error) bool

	// IsActive reports Empty-active/Single-handler/List-active, i.e. not
	// yet Finishing or Completed.
	IsActive() bool

	// IsCancelling reports Finishing(cancelling=true) or a Completed job
	// whose terminal state carries a cause.
	IsCancelling() bool

	// IsCompleted reports the Completed terminal state.
	IsCompleted() bool

	// Cause returns the job's root cancellation/failure cause, or nil if
	// none has been set yet (or the job completed normally).
	Cause() error

	// Name returns the job's diagnostic name, or "" if unnamed.
	Name() string

	// InvokeOnCompletion registers handler to run when the job finishes.
	// If onCancelling, it fires as soon as the job enters Finishing with
	// a cause (spec.md §4.5 "on-cancelling handlers fire first, at
	// cancellation"); otherwise it fires at final completion. If the job
	// is already terminal and invokeImmediately is true, handler runs
	// inline before this call returns.
	InvokeOnCompletion(onCancelling, invokeImmediately bool, handler func(cause error)) Disposable

	// AttachChild registers child as a structured child of this job. If
	// this job is already completing, child is cancelled immediately with
	// this job's cause and a no-op Disposable is returned (spec.md §3.3).
	AttachChild(child Job) Disposable

	// Join waits for terminal state without surfacing the cause; callers
	// must check Cause separately (spec.md §4.5's join/await
	// distinction). ctx supplies the dispatcher used to resume the
	// caller.
	Join(ctx Context) error
}

type jobVariant uint8

const (
	variantEmptyNew jobVariant = iota
	variantEmptyActive
	variantSingleHandler
	variantListActive
	variantFinishing
	variantCompleted
)

type handlerEntry struct {
	id           uint64
	onCancelling bool
	fired        bool
	fn           func(cause error)
}

// jobState is the immutable payload behind job.state (spec.md §3.2). Every
// transition allocates a new jobState and installs it with a single CAS;
// this is the "tagged union over an atomic reference cell" alternative to
// a tagged pointer that SPEC_FULL.md §9 calls for.
type jobState struct {
	variant jobVariant

	handlers []handlerEntry // ordered by registration

	cancelling bool // Finishing: moving towards CompletedExceptionally
	completing bool // Finishing: a complete() call is waiting on children
	sealed     bool // Finishing: no further AttachChild allowed

	cause      error // root cause; set iff cancelling, preserved into Completed
	suppressed []error

	proposed any // value passed to complete() while still Finishing

	result      any  // Completed: success value
	exceptional bool // Completed: true if this is CompletedExceptionally
}

func (s *jobState) clone() *jobState {
	cp := *s
	cp.handlers = append([]handlerEntry(nil), s.handlers...)
	cp.suppressed = append([]error(nil), s.suppressed...)
	return &cp
}

type job struct {
	name       string
	supervisor bool
	onStart    func()

	state     atomic.Pointer[jobState]
	nextID    atomic.Uint64
	children  atomic.Pointer[[]*job]
	parent    *job
	parentDis Disposable

	metrics  *runtimeMetrics
	logger   *zap.Logger
	handlerX ExceptionHandler
}

func newJob(name string, parent *job, startActive bool, supervisor bool, onStart func()) *job {
	j := &job{name: name, parent: parent, supervisor: supervisor, onStart: onStart}
	empty := make([]*job, 0)
	j.children.Store(&empty)
	variant := variantEmptyNew
	if startActive {
		variant = variantEmptyActive
	}
	j.state.Store(&jobState{variant: variant})
	return j
}

// attachMetrics wires j alone (not its children) to m, counting j as active
// for as long as it is the caller's responsibility to report on. NewScope calls this once on the root job; child jobs inherit
// their parent's metrics at AttachChild time instead (see AttachChild).
func (j *job) attachMetrics(m *runtimeMetrics) {
	j.metrics = m
	if m != nil {
		m.jobsActive.Add(1)
	}
}

func (j *job) Name() string { return j.name }

func (j *job) Start() bool {
	for {
		cur := j.state.Load()
		if cur.variant != variantEmptyNew {
			return false
		}
		next := &jobState{variant: variantEmptyActive}
		if j.state.CompareAndSwap(cur, next) {
			if j.onStart != nil {
				j.onStart()
			}
			return true
		}
	}
}

func (j *job) IsActive() bool {
	v := j.state.Load().variant
	return v == variantEmptyActive || v == variantSingleHandler || v == variantListActive
}

func (j *job) IsCancelling() bool {
	cur := j.state.Load()
	if cur.variant == variantFinishing {
		return cur.cancelling
	}
	if cur.variant == variantCompleted {
		return cur.exceptional
	}
	return false
}

func (j *job) IsCompleted() bool {
	return j.state.Load().variant == variantCompleted
}

func (j *job) Cause() error {
	cur := j.state.Load()
	switch cur.variant {
	case variantFinishing, variantCompleted:
		return cur.cause
	default:
		return nil
	}
}

func (j *job) childrenSnapshot() []*job {
	p := j.children.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (j *job) addChild(c *job) {
	for {
		cur := j.children.Load()
		next := make([]*job, len(*cur), len(*cur)+1)
		copy(next, *cur)
		next = append(next, c)
		if j.children.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func (j *job) removeChild(c *job) {
	for {
		cur := j.children.Load()
		idx := -1
		for i, ch := range *cur {
			if ch == c {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		next := make([]*job, 0, len(*cur)-1)
		next = append(next, (*cur)[:idx]...)
		next = append(next, (*cur)[idx+1:]...)
		if j.children.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// invokeHandler runs fn, routing any panic to j's ExceptionHandler as a
// HandlerError (spec.md §7 category 4): a handler failure never aborts the
// remaining handlers or the state machine.
func (j *job) invokeHandler(fn func(error), cause error) {
	defer func() {
		if r := recover(); r != nil {
			j.reportError(&HandlerError{Job: j.name, Cause: fmt.Errorf("panic: %v", r)})
		}
	}()
	fn(cause)
}

func (j *job) reportError(err error) {
	if j.logger != nil {
		j.logger.Warn("corow: handler/dispatch error", zap.String("job", j.name), zap.Error(err))
	}
	if j.handlerX != nil {
		j.handlerX(nil, err)
		return
	}
	DefaultExceptionHandler(nil, err)
}

func (j *job) InvokeOnCompletion(onCancelling, invokeImmediately bool, handler func(cause error)) Disposable {
	id := j.nextID.Add(1)
	for {
		cur := j.state.Load()
		switch cur.variant {
		case variantEmptyNew, variantEmptyActive:
			next := &jobState{variant: variantSingleHandler, handlers: []handlerEntry{{id: id, onCancelling: onCancelling, fn: handler}}}
			if j.state.CompareAndSwap(cur, next) {
				return j.disposableFor(id)
			}
		case variantSingleHandler, variantListActive:
			next := cur.clone()
			next.variant = variantListActive
			next.handlers = append(next.handlers, handlerEntry{id: id, onCancelling: onCancelling, fn: handler})
			if j.state.CompareAndSwap(cur, next) {
				return j.disposableFor(id)
			}
		case variantFinishing:
			if onCancelling && cur.cancelling {
				// Cancellation already ran its on-cancelling phase; fire
				// immediately per spec.md §3.2 ("a handler attached after
				// [the relevant phase] must be invoked ... immediately").
				if invokeImmediately {
					j.invokeHandler(handler, cur.cause)
				}
				return noopDisposable
			}
			next := cur.clone()
			next.handlers = append(next.handlers, handlerEntry{id: id, onCancelling: onCancelling, fn: handler})
			if j.state.CompareAndSwap(cur, next) {
				return j.disposableFor(id)
			}
		case variantCompleted:
			if invokeImmediately {
				j.invokeHandler(handler, cur.cause)
			}
			return noopDisposable
		}
	}
}

func (j *job) disposableFor(id uint64) Disposable {
	return disposableFunc(func() {
		for {
			cur := j.state.Load()
			if cur.variant != variantSingleHandler && cur.variant != variantListActive && cur.variant != variantFinishing {
				return
			}
			idx := -1
			for i, h := range cur.handlers {
				if h.id == id {
					idx = i
					break
				}
			}
			if idx < 0 {
				return
			}
			next := cur.clone()
			next.handlers = append(next.handlers[:idx], next.handlers[idx+1:]...)
			if j.state.CompareAndSwap(cur, next) {
				return
			}
		}
	})
}

func (j *job) AttachChild(child Job) Disposable {
	cj, ok := child.(*job)
	if !ok {
		return noopDisposable
	}
	cur := j.state.Load()
	if cur.variant == variantCompleted || cur.variant == variantFinishing {
		cj.Cancel(j.Cause())
		return noopDisposable
	}
	if cj.logger == nil {
		cj.logger = j.logger
	}
	if cj.handlerX == nil {
		cj.handlerX = j.handlerX
	}
	if cj.metrics == nil {
		cj.attachMetrics(j.metrics)
	}
	j.addChild(cj)
	disp := cj.InvokeOnCompletion(false, true, func(cause error) {
		j.removeChild(cj)
		if cause != nil {
			j.onChildFailed(cause)
		}
		j.tryFinalize()
	})
	cj.parentDis = disposableFunc(func() {
		j.removeChild(cj)
		disp.Dispose()
	})
	return cj.parentDis
}

func (j *job) onChildFailed(cause error) {
	if j.supervisor {
		return
	}
	if !j.IsActive() && j.state.Load().variant != variantFinishing {
		return
	}
	j.Cancel(cause)
}

// Cancel implements spec.md §4.5's cancel(cause) algorithm.
func (j *job) Cancel(cause error) bool {
	if cause == nil {
		cause = ErrCancelled
	}
	for {
		cur := j.state.Load()
		switch cur.variant {
		case variantCompleted:
			return false
		case variantFinishing:
			if !cur.cancelling {
				next := cur.clone()
				next.cancelling = true
				next.cause = cause
				if j.state.CompareAndSwap(cur, next) {
					j.runOnCancellingHandlers(next.handlers, cause)
					j.cascadeToChildren(cause)
					j.tryFinalize()
					return true
				}
				continue
			}
			next := cur.clone()
			next.suppressed = append(next.suppressed, cause)
			if j.state.CompareAndSwap(cur, next) {
				return false
			}
		default:
			next := cur.clone()
			next.variant = variantFinishing
			next.cancelling = true
			next.cause = cause
			if j.state.CompareAndSwap(cur, next) {
				if j.metrics != nil {
					j.metrics.jobsCancelled.Add(1)
				}
				j.runOnCancellingHandlers(next.handlers, cause)
				j.cascadeToChildren(cause)
				j.tryFinalize()
				return true
			}
		}
	}
}

func (j *job) runOnCancellingHandlers(handlers []handlerEntry, cause error) {
	for _, h := range handlers {
		if h.onCancelling {
			j.invokeHandler(h.fn, cause)
		}
	}
}

func (j *job) cascadeToChildren(cause error) {
	for _, c := range j.childrenSnapshot() {
		c.Cancel(cause)
	}
}

// Complete implements spec.md §4.5's complete(value) algorithm for a
// successful (non-exceptional) result.
func (j *job) Complete(value any) {
	for {
		cur := j.state.Load()
		switch cur.variant {
		case variantCompleted:
			return
		case variantFinishing:
			if cur.completing {
				return
			}
			next := cur.clone()
			next.completing = true
			next.proposed = value
			if j.state.CompareAndSwap(cur, next) {
				j.tryFinalize()
				return
			}
		default:
			if len(j.childrenSnapshot()) == 0 {
				next := &jobState{variant: variantCompleted, result: value}
				if j.state.CompareAndSwap(cur, next) {
					j.finishCompletion(cur.handlers, nil)
					return
				}
				continue
			}
			next := cur.clone()
			next.variant = variantFinishing
			next.completing = true
			next.proposed = value
			if j.state.CompareAndSwap(cur, next) {
				j.tryFinalize()
				return
			}
		}
	}
}

// tryFinalize moves a Finishing job into Completed once it has no
// remaining children (spec.md §4.5: "the last completing child
// compare-and-swaps the Finishing state into Completed").
func (j *job) tryFinalize() {
	for {
		cur := j.state.Load()
		if cur.variant != variantFinishing {
			return
		}
		if len(j.childrenSnapshot()) > 0 {
			return
		}
		if !cur.cancelling && !cur.completing {
			// Defensive only: every transition into Finishing sets
			// cancelling or completing in the same CAS, so this state
			// does not occur.
			return
		}
		next := &jobState{
			variant:     variantCompleted,
			cause:       cur.cause,
			exceptional: cur.cancelling,
			result:      cur.proposed,
		}
		if j.state.CompareAndSwap(cur, next) {
			j.finishCompletion(cur.handlers, cur.cause)
			return
		}
	}
}

func (j *job) finishCompletion(handlers []handlerEntry, cause error) {
	if j.metrics != nil {
		j.metrics.jobsActive.Add(-1)
		if cause != nil {
			j.metrics.jobsFailed.Add(1)
		}
	}
	if j.logger != nil {
		j.logger.Debug("corow: job completed", zap.String("job", j.name), zap.Bool("exceptional", cause != nil))
	}
	for _, h := range handlers {
		if !h.onCancelling {
			j.invokeHandler(h.fn, cause)
		}
	}
	if j.parentDis != nil {
		j.parentDis.Dispose()
	}
}

// Join blocks the caller until the job reaches a terminal state, without
// surfacing the cause (spec.md §4.5). The actual wakeup is delivered
// through a CancellableContinuation so that ctx's Dispatcher controls
// where the resume runs, matching spec.md §4.2/§4.3; the calling goroutine
// itself simply parks on a channel, since a goroutine is the natural Go
// analogue of a parkable stack (SPEC_FULL.md §9).
func (j *job) Join(ctx Context) error {
	if j.IsCompleted() {
		return nil
	}
	cont := newContinuation[struct{}](ctx)
	disp := j.InvokeOnCompletion(false, true, func(cause error) {
		cont.Resume(struct{}{}, nil)
	})
	defer disp.Dispose()
	_, err := cont.await()
	if err != nil && !IsCancellationError(err) {
		return err
	}
	return nil
}

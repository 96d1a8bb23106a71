package corow

import "context"

// nonCancellableJob is the always-active sentinel the original kotlinx
// coroutines core exposes as NonCancellable (NonCancellable.hpp): a Job
// that is permanently active, never completes, and whose Cancel is a
// no-op. It exists solely so that a withContext-style block can keep
// running after its enclosing job has already started cancelling (e.g.
// a cleanup step that must finish even though the operation it is
// cleaning up after failed).
//
// Per the original's own warning, this is deliberately not exposed as
// something Launch/Async can take as a parent: attaching it as a real
// structured child would sever the parent/child edge entirely (the
// parent would never observe the child's completion or failure). The
// only supported entry point is RunNonCancellable.
type nonCancellableJob struct{}

func (nonCancellableJob) Start() bool                { return false }
func (nonCancellableJob) Cancel(error) bool          { return false }
func (nonCancellableJob) IsActive() bool             { return true }
func (nonCancellableJob) IsCancelling() bool         { return false }
func (nonCancellableJob) IsCompleted() bool          { return false }
func (nonCancellableJob) Cause() error               { return nil }
func (nonCancellableJob) Name() string               { return "NonCancellable" }
func (nonCancellableJob) Join(Context) error         { return nil }
func (nonCancellableJob) AttachChild(Job) Disposable { return noopDisposable }
func (nonCancellableJob) InvokeOnCompletion(bool, bool, func(error)) Disposable {
	return noopDisposable
}

var theNonCancellableJob Job = nonCancellableJob{}

// RunNonCancellable runs block with cancellation shielded off for its
// duration, the Go realization of withContext(NonCancellable) { ... }.
// Unlike WithContext's ordinary child job, the job block observes here is
// the always-active sentinel above, and the embedded standard context is
// replaced with context.Background() rather than inherited, so neither
// Job.IsActive checks nor ctx.Std().Done() selects report the outer
// scope's cancellation while block is running.
func RunNonCancellable[T any](parent Context, block func(Context) (T, error)) (T, error) {
	shielded := parent.Plus(Element{Key: JobKey, Value: theNonCancellableJob})
	if c, ok := shielded.(*ctx); ok {
		shielded = c.withStd(context.Background())
	}
	return runGuardedValue(shielded, nil, block)
}

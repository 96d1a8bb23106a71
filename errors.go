package corow

import (
	"errors"
	"fmt"
)

// Namespace prefixes every sentinel error message this package defines,
// following the same convention as the rest of the corow error surface.
const Namespace = "corow"

var (
	// ErrCancelled is the public error observed by a job's waiters when it
	// completes because it (or an ancestor) was cancelled. It is expected
	// control flow (spec.md §7, category 1) and is never routed to an
	// ExceptionHandler.
	ErrCancelled = errors.New(Namespace + ": job was cancelled")

	// ErrTimeout subtypes ErrCancelled: it is produced by WithTimeout when
	// the deadline races ahead of the body. errors.Is(err, ErrCancelled)
	// holds for it via Unwrap, matching the CancellationException /
	// TimeoutCancellationException relationship in spec.md §6.
	ErrTimeout = fmt.Errorf("%s: %w", Namespace+": timed out", ErrCancelled)

	// ErrClosedSend is returned by Channel.Send/TrySend once the channel
	// has been closed.
	ErrClosedSend = errors.New(Namespace + ": send on closed channel")

	// ErrClosedReceive is returned by Channel.Receive/TryReceive once the
	// channel is closed and its buffer has been fully drained.
	ErrClosedReceive = errors.New(Namespace + ": receive on closed channel")

	// ErrChannelCancelled is the cause failing pending and future receives
	// on a cancelled (not merely closed) channel.
	ErrChannelCancelled = errors.New(Namespace + ": channel was cancelled")

	// ErrJobNotActive names the condition of a job that has left the
	// active state. No function in this module returns it.
	ErrJobNotActive = errors.New(Namespace + ": job is not active")

	// ErrAlreadyCompleted names an attempt to complete a job a second
	// time. No function in this module returns or checks it: completing an
	// already-completed job is a silent no-op.
	ErrAlreadyCompleted = errors.New(Namespace + ": job already completed")

	// ErrReentrantLock is returned by Mutex.Lock when the same owner
	// attempts to acquire a mutex it already holds.
	ErrReentrantLock = errors.New(Namespace + ": reentrant mutex lock by same owner")

	// ErrWrongOwner is returned by Mutex.Unlock when called with an owner
	// token that does not match the current holder.
	ErrWrongOwner = errors.New(Namespace + ": unlock called by non-owner")
)

// HandlerError wraps a panic/error raised by a completion or cancellation
// handler (spec.md §7, category 4). It is always routed to the owning
// context's ExceptionHandler and never aborts the remaining handlers.
type HandlerError struct {
	Job   string // job name, for correlation; empty if unnamed
	Cause error
}

func (e *HandlerError) Error() string {
	if e.Job == "" {
		return fmt.Sprintf("%s: completion handler failed: %v", Namespace, e.Cause)
	}
	return fmt.Sprintf("%s: completion handler for job %q failed: %v", Namespace, e.Job, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

func (e *HandlerError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "handler(job=%q): %+v", e.Job, e.Cause)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// DispatchError wraps a failure raised by a Dispatcher's dispatch or
// must_dispatch implementation (spec.md §7, category 3).
type DispatchError struct {
	Dispatcher string
	Cause      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: dispatcher %q failed: %v", Namespace, e.Dispatcher, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// FatalError wraps a runtime invariant violation (spec.md §7, category 5).
// It is routed to the ExceptionHandler and then, unconditionally, to
// LastResortReporter.
type FatalError struct {
	Invariant string
	Cause     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: invariant %q violated: %v", Namespace, e.Invariant, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// TaskMetaError is retained from the teacher's error-tagging contract: an
// error carrying a job name that a caller could recover via errors.As. No
// error type in this module implements it.
type TaskMetaError interface {
	error
	Unwrap() error
	JobName() (string, bool)
}

// IsCancellationError reports whether err is, or wraps, ErrCancelled (and
// therefore also matches ErrTimeout, which wraps it). Scope builders use
// this to decide whether a child's failure is expected control flow
// (spec.md §7 category 1) or an application failure to rethrow (category 2).
func IsCancellationError(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// DefaultExceptionHandler is used whenever a Context has no
// ExceptionHandler element installed. It never panics; ctx may be nil.
var DefaultExceptionHandler ExceptionHandler = func(ctx Context, err error) {
	if ctx != nil {
		ctx.Logger().Sugar().Warnw("corow: unhandled error", "error", err)
		return
	}
	fallbackLogger.Sugar().Warnw("corow: unhandled error (no context)", "error", err)
}

// LastResortReporter is the process-wide sink for fatal (category 5)
// errors that could not be handled any other way (spec.md §4.3 step 5,
// §7 category 5). Hosts may override it, e.g. to page an operator.
var LastResortReporter = func(err error) {
	fallbackLogger.Sugar().Errorw("corow: fatal runtime error", "error", err)
}

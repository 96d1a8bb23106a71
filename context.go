package corow

import (
	"context"

	"go.uber.org/zap"
)

// Key identifies a single Context element. Keys compare by pointer
// identity, matching spec.md §3.1 ("keys have identity equality; at most
// one element per key"); two Keys with the same Name are still distinct.
type Key struct {
	Name string
}

// Element is a single key/value pair composed into a Context.
type Element struct {
	Key   *Key
	Value interface{}
}

// Required keys (spec.md §3.1).
var (
	JobKey              = &Key{Name: "Job"}
	DispatcherKey       = &Key{Name: "Dispatcher"}
	NameKey             = &Key{Name: "Name"}
	ExceptionHandlerKey = &Key{Name: "ExceptionHandler"}

	// LoggerKey is an ambient-stack addition (SPEC_FULL.md §4.13): it is
	// not one of spec.md's required keys, but is carried the same way.
	LoggerKey = &Key{Name: "Logger"}

	// unconfinedLoopKey is internal: it threads the per-call-chain
	// unconfined event loop through the Context instead of relying on
	// OS-thread-local storage, which Go does not provide (SPEC_FULL.md §9).
	unconfinedLoopKey = &Key{Name: "unconfinedLoop"}
)

// ExceptionHandler is consulted when a job fails without a local handler
// (spec.md §6).
type ExceptionHandler func(ctx Context, err error)

// Context is an immutable, persistent set of elements (spec.md §3.1).
// Composition (Plus) returns a new Context; it never mutates the receiver.
// A Context embeds a standard library context.Context so that library code
// which expects one (timers, net, database drivers, ...) can still be
// handed a usable value via Context.Std.
type Context interface {
	// Get returns the element stored under key, if any.
	Get(key *Key) (interface{}, bool)

	// Plus returns a new Context with elements layered on top of the
	// receiver; later elements in the call win over earlier ones, and any
	// of them win over same-keyed elements already present in the
	// receiver (spec.md §3.1: "right-hand side overrides same-key
	// elements on the left").
	Plus(elements ...Element) Context

	// Std returns the embedded standard library context, for interop with
	// APIs that require one. For a Context derived from NewScope it is
	// cancelled when the scope's root job completes; child jobs share it,
	// so cancelling a child job does not cancel it.
	Std() context.Context

	// Job returns the Job element, or nil if none is installed.
	Job() Job

	// Dispatcher returns the Dispatcher element, or nil if none is
	// installed.
	Dispatcher() Dispatcher

	// Name returns the Name element, or "" if none is installed.
	Name() string

	// ExceptionHandler returns the ExceptionHandler element, or nil.
	ExceptionHandler() ExceptionHandler

	// Logger returns the Logger element, defaulting to a no-op logger.
	Logger() *zap.Logger
}

type ctx struct {
	parent *ctx
	key    *Key
	value  interface{}
	std    context.Context
}

// Background returns an empty root Context wrapping context.Background().
// It carries no Job, Dispatcher, Name, ExceptionHandler or Logger; callers
// normally reach a usable Context via NewScope instead of Background
// directly.
func Background() Context {
	return &ctx{std: context.Background()}
}

// FromStd wraps an existing standard-library context, inheriting its
// deadline and cancellation for Std() callers, without installing any
// corow-specific element.
func FromStd(std context.Context) Context {
	if std == nil {
		std = context.Background()
	}
	return &ctx{std: std}
}

func (c *ctx) Get(key *Key) (interface{}, bool) {
	for n := c; n != nil; n = n.parent {
		if n.key == key {
			return n.value, true
		}
	}
	return nil, false
}

func (c *ctx) Plus(elements ...Element) Context {
	cur := c
	for _, el := range elements {
		if el.Key == nil {
			continue
		}
		cur = &ctx{parent: cur, key: el.Key, value: el.Value, std: cur.std}
	}
	return cur
}

func (c *ctx) Std() context.Context {
	return c.std
}

func (c *ctx) Job() Job {
	v, ok := c.Get(JobKey)
	if !ok {
		return nil
	}
	j, _ := v.(Job)
	return j
}

func (c *ctx) Dispatcher() Dispatcher {
	v, ok := c.Get(DispatcherKey)
	if !ok {
		return nil
	}
	d, _ := v.(Dispatcher)
	return d
}

func (c *ctx) Name() string {
	v, ok := c.Get(NameKey)
	if !ok {
		return ""
	}
	n, _ := v.(string)
	return n
}

func (c *ctx) ExceptionHandler() ExceptionHandler {
	v, ok := c.Get(ExceptionHandlerKey)
	if !ok {
		return nil
	}
	h, _ := v.(ExceptionHandler)
	return h
}

func (c *ctx) Logger() *zap.Logger {
	v, ok := c.Get(LoggerKey)
	if !ok {
		return zap.NewNop()
	}
	l, _ := v.(*zap.Logger)
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// UnconfinedLoop is the minimal shape corow/internal/unconfined.Loop
// satisfies; it is declared here, not there, so this package can carry a
// loop reference on Context without importing the internal package
// (SPEC_FULL.md §9's "no OS-thread-local storage" design note).
type UnconfinedLoop interface {
	Dispatch(run func())
	IsActive() bool
}

// WithUnconfinedLoop returns ctx with loop installed as the unconfined
// event loop for this synchronous call chain.
func WithUnconfinedLoop(ctx Context, loop UnconfinedLoop) Context {
	return ctx.Plus(Element{Key: unconfinedLoopKey, Value: loop})
}

// GetUnconfinedLoop returns the unconfined loop installed on ctx, if any.
func GetUnconfinedLoop(ctx Context) (UnconfinedLoop, bool) {
	v, ok := ctx.Get(unconfinedLoopKey)
	if !ok {
		return nil, false
	}
	l, ok := v.(UnconfinedLoop)
	return l, ok
}

// withStd returns a copy of ctx whose embedded standard context is std;
// used by RunNonCancellable (noncancellable.go) to detach a block from
// the scope's cancellation-linked context.Context.
func (c *ctx) withStd(std context.Context) Context {
	return &ctx{parent: c.parent, key: c.key, value: c.value, std: std}
}

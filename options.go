package corow

import (
	"context"

	"go.uber.org/zap"

	"github.com/ygrebnov/corow/internal/unconfined"
	"github.com/ygrebnov/corow/metrics"
)

// Option configures a root Context assembled by NewScope (spec.md §4.14,
// "a host program wires a runtime together out of options rather than a
// single monolithic constructor").
type Option func(*scopeOptions)

// WithDispatcher installs the Dispatcher the scope's root job and every
// builder launched under it use by default.
func WithDispatcher(d Dispatcher) Option {
	return func(o *scopeOptions) { o.dispatcher = d }
}

// WithLogger installs a zap.Logger; without this option the scope logs
// nowhere (a no-op logger), matching Context.Logger's own default.
func WithLogger(l *zap.Logger) Option {
	return func(o *scopeOptions) { o.logger = l }
}

// WithExceptionHandler installs the ExceptionHandler consulted when a job
// under this scope fails without a more local handler (spec.md §6).
func WithExceptionHandler(h ExceptionHandler) Option {
	return func(o *scopeOptions) { o.handler = h }
}

// WithName sets the root job's diagnostic name.
func WithName(name string) Option {
	return func(o *scopeOptions) { o.name = name }
}

// WithConfig overrides the scope's RuntimeConfig wholesale, starting from
// defaultRuntimeConfig's baseline.
func WithConfig(cfg RuntimeConfig) Option {
	return func(o *scopeOptions) { o.cfg = cfg }
}

// WithMetrics installs a metrics.Provider; every job, dispatch and channel
// operation under this scope reports through the instruments it builds
// (SPEC_FULL.md §4.16). Without this option, metrics are disabled entirely
// rather than defaulting to a NoopProvider, so uninstrumented scopes pay
// nothing for the check.
func WithMetrics(p metrics.Provider) Option {
	return func(o *scopeOptions) { o.metrics = p }
}

// CancelJob cancels the scope's root job with cause (nil is normalized to
// ErrCancelled by Job.Cancel) and releases the standard-library context
// tied to it. Calling it more than once is safe; only the first call has
// an effect.
type CancelJob func(cause error)

// NewScope is the single entry point a host program calls to obtain a root
// Context (spec.md §4.14). It assembles a root Job, wires it to a
// context.Context so standard-library APIs observe cancellation, and layers
// every installed Option on top of Background().
func NewScope(opts ...Option) (Context, CancelJob) {
	built := defaultScopeOptions()
	for _, o := range opts {
		o(&built)
	}
	if err := validateRuntimeConfig(&built.cfg); err != nil {
		// RuntimeConfig validation never fails today (validateRuntimeConfig
		// is a reserved hook); a future invariant violation is still a
		// fatal-error condition rather than a panic.
		reportFatal(Background(), "runtime-config", err)
	}

	root := newJob(built.name, nil, true, false, nil)
	if built.metrics != nil {
		root.attachMetrics(newRuntimeMetrics(built.metrics))
	}
	root.logger = built.logger
	root.handlerX = built.handler

	std, stdCancel := context.WithCancel(context.Background())
	base := FromStd(std).(*ctx)

	elements := []Element{{Key: JobKey, Value: Job(root)}}
	if built.dispatcher != nil {
		elements = append(elements, Element{Key: DispatcherKey, Value: built.dispatcher})
	}
	if built.name != "" {
		elements = append(elements, Element{Key: NameKey, Value: built.name})
	}
	if built.handler != nil {
		elements = append(elements, Element{Key: ExceptionHandlerKey, Value: built.handler})
	}
	if built.logger != nil {
		elements = append(elements, Element{Key: LoggerKey, Value: built.logger})
	}

	rootCtx := base.Plus(elements...)

	// Every scope carries an unconfined loop from the root down, so the
	// first unconfined dispatch in any call chain rooted here finds one
	// to drain through rather than dispatchFor falling back to a bare
	// inline call (spec.md §4.4; see dispatcher.go's LoopThreaded gate).
	// newChildJob installs a fresh one for any sub-chain that does not
	// already have one (e.g. a Context handed to another goroutine).
	rootCtx = WithUnconfinedLoop(rootCtx, unconfined.NewLoop())

	root.InvokeOnCompletion(false, true, func(error) { stdCancel() })

	cancel := func(cause error) { root.Cancel(cause) }
	return rootCtx, cancel
}

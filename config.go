package corow

// RuntimeConfig holds tuning values for a root Context, mirroring the
// teacher's Config shape (SPEC_FULL.md §4.14). NewScope does not read it:
// none of the fields below changes the behaviour of a scope, a dispatcher,
// a channel or a semaphore.
type RuntimeConfig struct {
	// DefaultDispatcherWorkers is a worker count for a default pooled
	// dispatcher. NewScope builds no such dispatcher; without
	// WithDispatcher a scope has none. Zero (default) stands for a size
	// derived from GOMAXPROCS.
	DefaultDispatcherWorkers uint

	// UnconfinedQueueHint is an informational sizing hint; nothing reads
	// it, and the unconfined loop grows unbounded. Default: 0.
	UnconfinedQueueHint uint

	// ChannelDefaultCapacity is a default buffer size. channel.New takes
	// its capacity as an explicit argument and does not read this.
	// Default: 0 (rendezvous).
	ChannelDefaultCapacity uint

	// SemaphoreSpinBound is a spin bound for corosync.Semaphore.Release
	// (spec.md §4.9). NewSemaphore takes its spin bound as an explicit
	// argument and does not read this. Default: 64.
	SemaphoreSpinBound uint
}

// defaultRuntimeConfig centralizes default values for RuntimeConfig.
// These defaults are applied by both NewScope (when no options override
// them) and anything else that needs a baseline configuration.
func defaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DefaultDispatcherWorkers: 0, // derived from GOMAXPROCS
		UnconfinedQueueHint:      0,
		ChannelDefaultCapacity:   0, // rendezvous
		SemaphoreSpinBound:       64,
	}
}

// validateRuntimeConfig performs lightweight invariant checks.
// It returns nil for all currently valid states; reserved for future
// validation expansion.
func validateRuntimeConfig(_ *RuntimeConfig) error {
	return nil
}

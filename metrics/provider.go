// Package metrics is corow's instrument contract (spec.md's observability
// surface, SPEC_FULL.md §4.16): job lifecycle, dispatch latency, and
// channel suspensions are all recorded through the Provider a host wires
// in via corow.WithMetrics, not hardcoded to one backend.
package metrics

// Provider constructs instruments used to record metrics.
// Implementations must be safe for concurrent use.
//
// Keep this interface minimal and stable. If you need new capabilities later,
// introduce separate optional interfaces rather than expanding this surface.
//
// Names are the only configuration point: corow's instruments are named
// self-descriptively (e.g. "corow_dispatch_latency_seconds", see metrics.go),
// Prometheus-style, so there is no separate description/unit/attribute
// metadata to carry per instrument — the teacher's InstrumentOption
// machinery existed for a generic worker pool whose callers chose their
// own names; it has no caller here and is dropped rather than kept unused.
type Provider interface {
	Counter(name string) Counter
	UpDownCounter(name string) UpDownCounter
	Histogram(name string) Histogram
}

// Counter records monotonic counts.
// Methods must be safe for concurrent use.
type Counter interface {
	Add(n int64)
}

// UpDownCounter records values that can move up or down (e.g., current in-flight).
// Methods must be safe for concurrent use.
type UpDownCounter interface {
	Add(n int64)
}

// Histogram records distribution of float64 measurements (e.g., durations in seconds).
// Methods must be safe for concurrent use.
type Histogram interface {
	Record(v float64)
}

package corow

import (
	"time"

	"github.com/ygrebnov/corow/metrics"
)

// runtimeMetrics is the fixed set of instruments a scope's jobs, dispatchers
// and channels report through, built once per NewScope call from whatever
// metrics.Provider the host supplied (SPEC_FULL.md §4.16). A nil
// *runtimeMetrics (the zero value of scopeOptions.metrics before any
// WithMetrics option runs) disables metrics entirely; every call site that
// touches it checks for nil first rather than requiring a NoopProvider.
type runtimeMetrics struct {
	jobsActive          metrics.UpDownCounter
	jobsCancelled       metrics.Counter
	jobsFailed          metrics.Counter
	dispatchLatency     metrics.Histogram
	sendSuspensions     metrics.Counter
	receiveSuspensions  metrics.Counter
	undeliveredElements metrics.Counter
}

// ReportSendSuspension increments channel_send_suspensions_total for ctx's
// scope, if metrics are enabled. channel.Channel.Send calls this on the
// path where no receiver is ready and it must suspend (SPEC_FULL.md §4.16).
func ReportSendSuspension(ctx Context) {
	if m := metricsOf(ctx); m != nil {
		m.sendSuspensions.Add(1)
	}
}

// ReportReceiveSuspension is ReportSendSuspension's receive-side
// counterpart.
func ReportReceiveSuspension(ctx Context) {
	if m := metricsOf(ctx); m != nil {
		m.receiveSuspensions.Add(1)
	}
}

// ReportUndelivered increments undelivered_elements_total for ctx's scope,
// if metrics are enabled. channel.Channel.Send calls this when a suspended
// send is cancelled and its value is reported undelivered; overflow drops,
// conflation and Channel.Cancel's drain invoke the undelivered-element
// callback without calling this.
func ReportUndelivered(ctx Context) {
	if m := metricsOf(ctx); m != nil {
		m.undeliveredElements.Add(1)
	}
}

// ReportDispatchLatency records the time between a DispatchedTask's creation
// and its runnable actually starting, for ctx's scope (SPEC_FULL.md §4.16).
// Dispatchers that hand work to a goroutine pool (dispatchers.NewPooled)
// call this from the goroutine that finally runs the runnable.
func ReportDispatchLatency(ctx Context, since time.Time) {
	if m := metricsOf(ctx); m != nil {
		m.dispatchLatency.Record(time.Since(since).Seconds())
	}
}

func metricsOf(ctx Context) *runtimeMetrics {
	if ctx == nil {
		return nil
	}
	jb := ctx.Job()
	if jb == nil {
		return nil
	}
	j, ok := jb.(*job)
	if !ok {
		return nil
	}
	return j.metrics
}

func newRuntimeMetrics(p metrics.Provider) *runtimeMetrics {
	if p == nil {
		return nil
	}
	return &runtimeMetrics{
		jobsActive:          p.UpDownCounter("corow_jobs_active"),
		jobsCancelled:       p.Counter("corow_jobs_cancelled_total"),
		jobsFailed:          p.Counter("corow_jobs_completed_exceptionally_total"),
		dispatchLatency:     p.Histogram("corow_dispatch_latency_seconds"),
		sendSuspensions:     p.Counter("corow_channel_send_suspensions_total"),
		receiveSuspensions:  p.Counter("corow_channel_receive_suspensions_total"),
		undeliveredElements: p.Counter("corow_undelivered_elements_total"),
	}
}

package corow

import "sync"

// scopeShutdown orchestrates tearing down a blocking scope builder
// (CoroutineScope/SupervisorScope, builders.go) in a fixed order, the same
// "cancel, then wait, then drain, exactly once" shape the teacher's
// lifecycleCoordinator used for worker-pool shutdown, generalized here from
// channel/waitgroup plumbing to Job cancellation and completion.
type scopeShutdown struct {
	cancel func(cause error)
	job    *job
	ctx    Context
	drain  func()

	once sync.Once
	err  error
}

func newScopeShutdown(ctx Context, j *job, cancel func(cause error), drain func()) *scopeShutdown {
	return &scopeShutdown{cancel: cancel, job: j, ctx: ctx, drain: drain}
}

// Close runs the shutdown sequence exactly once:
//  1. cancel the scope's job with cause, if cause is non-nil (no-op if
//     already terminal)
//  2. join the job, collecting its terminal cause
//  3. run the caller-supplied drain step (closing channels the scope owns)
func (s *scopeShutdown) Close(cause error) error {
	s.once.Do(func() {
		if s.cancel != nil && cause != nil {
			s.cancel(cause)
		}
		if s.job != nil {
			if err := s.job.Join(s.ctx); err != nil {
				s.err = err
			} else if c := s.job.Cause(); c != nil && !IsCancellationError(c) {
				s.err = c
			}
		}
		if s.drain != nil {
			s.drain()
		}
	})
	return s.err
}

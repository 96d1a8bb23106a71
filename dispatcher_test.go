package corow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/corow/internal/unconfined"
)

// loopThreadedStub is a minimal Dispatcher that mirrors
// dispatchers.unconfinedDispatcher's shape for this package's own tests:
// MustDispatch always reports false (the common case once a loop already
// exists and is not currently draining), and ThreadsLoop reports true, so
// dispatchFor is the thing deciding whether Dispatch still gets called.
type loopThreadedStub struct {
	loop *unconfined.Loop
}

func (loopThreadedStub) MustDispatch(Context) bool                             { return false }
func (loopThreadedStub) ThreadsLoop() bool                                     { return true }
func (d loopThreadedStub) Dispatch(_ Context, run func())                      { d.loop.Dispatch(run) }
func (d loopThreadedStub) YieldDispatch(ctx Context, run func())               { d.Dispatch(ctx, run) }
func (loopThreadedStub) Intercept(_ Context, _ interface{}, run func()) func() { return run }
func (d loopThreadedStub) Limited(int, string) Dispatcher                      { return d }

// A chain of nested resumes on a LoopThreaded dispatcher must drain through
// the loop instead of recursing on the Go call stack (spec.md §4.4):
// without dispatchFor forcing the Dispatch call, MustDispatch==false alone
// would take the bare-inline branch and each nested dispatchFor call would
// add a frame, growing unboundedly with chain length.
func TestDispatchFor_LoopThreadedChainDoesNotGrowCallStack(t *testing.T) {
	loop := unconfined.NewLoop()
	d := loopThreadedStub{loop: loop}
	ctx := WithUnconfinedLoop(Background().Plus(Element{Key: DispatcherKey, Value: d}), loop)

	const chainLength = 5000
	var ran int
	var depth, maxDepth int

	var resumeNext func(remaining int)
	resumeNext = func(remaining int) {
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		ran++
		if remaining > 0 {
			dispatchFor(ctx, &DispatchedTask{
				Mode:   ResumeCancellable,
				Ctx:    ctx,
				Resume: func(bool, error) { resumeNext(remaining - 1) },
			})
		}
		depth--
	}

	dispatchFor(ctx, &DispatchedTask{
		Mode:   ResumeCancellable,
		Ctx:    ctx,
		Resume: func(bool, error) { resumeNext(chainLength) },
	})

	require.Equal(t, chainLength+1, ran)
	require.LessOrEqual(t, maxDepth, 2, "nested resumes must drain through the loop, not recurse")
}

package dispatchers_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/corow"
	"github.com/ygrebnov/corow/dispatchers"
)

func TestTestDispatcher_RunCurrentDrainsQueuedWork(t *testing.T) {
	td := dispatchers.NewTestDispatcher()
	ctx, cancel := corow.NewScope(corow.WithDispatcher(td))
	defer cancel(nil)

	var ran bool
	job := corow.Launch(ctx, corow.StartDefault, func(corow.Context) error {
		ran = true
		return nil
	})

	require.False(t, ran, "body must not run before RunCurrent")
	require.Equal(t, 1, td.Pending())

	td.RunCurrent()

	require.True(t, ran)
	require.Equal(t, 0, td.Pending())
	require.NoError(t, job.Join(ctx))
}

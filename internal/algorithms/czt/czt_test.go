package czt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trialsearch/go-thts/internal/envs/grid"
	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/thtsrand"
)

func runCzt(t *testing.T, trials, workers int) *thts.Pool[grid.State, grid.Action] {
	t.Helper()
	mopts := thts.DefaultOptions()
	mopts.MaxDepth = 12
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewMOEnv(2), mopts)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.SplitThreshold = 5
	_, err = New(mgr, opts)
	require.NoError(t, err)

	root, err := mgr.NewRoot()
	require.NoError(t, err)
	pool := thts.NewPool(mgr, root, workers, nil)
	require.NoError(t, pool.Run(context.Background(), trials))
	return pool
}

func TestCztNeedsMultiObjectiveEnv(t *testing.T) {
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(2), thts.DefaultOptions())
	require.NoError(t, err)
	_, err = New(mgr, DefaultOptions())
	require.Error(t, err)
	var cfgErr *thts.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCztRecommendsGoalwardUnderAnyWeight(t *testing.T) {
	pool := runCzt(t, 3000, 2)
	require.Equal(t, int64(3000), pool.Root().NumVisits())

	// Any monotone path is optimal under any scalarisation; moving away from
	// the goal is strictly worse.
	for i := 0; i < 20; i++ {
		action, err := pool.Recommend(thtsrand.New(int64(i), 0))
		require.NoError(t, err)
		require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
	}
}

func TestCztBallListsRefineWithBackups(t *testing.T) {
	pool := runCzt(t, 4000, 2)
	root := pool.Root()

	refined := false
	for _, c := range root.Children() {
		list := c.Stats.(*CStats).Balls
		require.Greater(t, list.TotalBackups(), 0)
		if len(list.BallsWithMinRadius(0)) > 1 {
			refined = true
		}
	}
	require.True(t, refined, "expected at least one chance node's ball list to split")
}

func TestCztConcurrentWorkers(t *testing.T) {
	pool := runCzt(t, 2000, 8)
	require.Equal(t, int64(2000), pool.TrialsCompleted())
	for _, c := range pool.Root().Children() {
		require.Equal(t, int64(0), c.VirtualLosses())
	}
}

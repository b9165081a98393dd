package uct

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trialsearch/go-thts/internal/envs/grid"
	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/thtsrand"
)

func newGridSearch(t *testing.T, optsFn func(*Options), mgrFn func(*thts.Manager[grid.State, grid.Action])) *thts.Pool[grid.State, grid.Action] {
	t.Helper()
	mopts := thts.DefaultOptions()
	mopts.MaxDepth = 12
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(2), mopts)
	require.NoError(t, err)
	if mgrFn != nil {
		mgrFn(mgr)
	}

	opts := DefaultOptions()
	if optsFn != nil {
		optsFn(&opts)
	}
	_, err = New(mgr, opts)
	require.NoError(t, err)

	root, err := mgr.NewRoot()
	require.NoError(t, err)
	return thts.NewPool(mgr, root, 2, nil)
}

func recommendAfter(t *testing.T, pool *thts.Pool[grid.State, grid.Action], trials int) grid.Action {
	t.Helper()
	require.NoError(t, pool.Run(context.Background(), trials))
	action, err := pool.Recommend(thtsrand.New(123, 0))
	require.NoError(t, err)
	return action
}

func TestUctFindsGoalDirection(t *testing.T) {
	pool := newGridSearch(t, nil, nil)
	action := recommendAfter(t, pool, 1500)
	require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
}

func TestUctMostVisitedRecommendation(t *testing.T) {
	pool := newGridSearch(t, func(o *Options) { o.RecommendMostVisited = true }, nil)
	action := recommendAfter(t, pool, 1500)
	require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
}

func TestUctEpsilonExplorationStillConverges(t *testing.T) {
	pool := newGridSearch(t, func(o *Options) { o.EpsilonExploration = 0.2 }, nil)
	action := recommendAfter(t, pool, 2500)
	require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
}

func TestUctAutoBias(t *testing.T) {
	pool := newGridSearch(t, func(o *Options) { o.Bias = UseAutoBias }, nil)
	action := recommendAfter(t, pool, 1500)
	require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
}

func TestUctMctsModeDPBackup(t *testing.T) {
	mopts := thts.DefaultOptions()
	mopts.MaxDepth = 12
	mopts.MctsMode = true
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(2), mopts)
	require.NoError(t, err)
	_, err = New(mgr, DefaultOptions())
	require.NoError(t, err)

	root, err := mgr.NewRoot()
	require.NoError(t, err)
	pool := thts.NewPool(mgr, root, 2, nil)
	require.NoError(t, pool.Run(context.Background(), 2000))

	action, err := pool.Recommend(thtsrand.New(123, 0))
	require.NoError(t, err)
	require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)

	// DP backups keep the root value near the optimal -4 rather than the
	// exploration-polluted running average.
	value := RootValue(root)
	require.LessOrEqual(t, value, -3.9)
	require.GreaterOrEqual(t, value, -8.0)
}

func TestPuctSelectionWithPrior(t *testing.T) {
	uniformPrior := func(s grid.State, env thts.Env[grid.State, grid.Action]) map[grid.Action]float64 {
		actions := env.ValidActions(s)
		prior := make(map[grid.Action]float64, len(actions))
		for _, a := range actions {
			prior[a] = 1.0 / float64(len(actions))
		}
		return prior
	}
	pool := newGridSearch(t,
		func(o *Options) { o.UsePuct = true },
		func(m *thts.Manager[grid.State, grid.Action]) { m.Prior = uniformPrior })
	action := recommendAfter(t, pool, 2000)
	require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
}

func TestPuctRequiresPrior(t *testing.T) {
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(2), thts.DefaultOptions())
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.UsePuct = true
	_, err = New(mgr, opts)
	require.Error(t, err)
	var cfgErr *thts.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestSequentialHalvingRunsAndConverges(t *testing.T) {
	pool := newGridSearch(t, func(o *Options) {
		o.SequentialHalving = true
		o.TotalBudget = 2000
		o.BudgetThreshold = 100
	}, nil)
	action := recommendAfter(t, pool, 2000)
	require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
}

func TestSequentialHalvingNeedsBudget(t *testing.T) {
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(2), thts.DefaultOptions())
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.SequentialHalving = true
	_, err = New(mgr, opts)
	require.Error(t, err)
}

func TestOptionsFromParams(t *testing.T) {
	params := parameters.NewFromConfigString("bias=2.5,epsilon_exploration=0.1,recommend_most_visited=true")
	opts, err := OptionsFromParams(params)
	require.NoError(t, err)
	require.Equal(t, 2.5, opts.Bias)
	require.Equal(t, 0.1, opts.EpsilonExploration)
	require.True(t, opts.RecommendMostVisited)
	require.Empty(t, params)
}

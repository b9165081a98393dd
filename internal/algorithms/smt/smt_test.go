package smt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trialsearch/go-thts/internal/envs/grid"
	"github.com/trialsearch/go-thts/internal/envs/sailing"
	"github.com/trialsearch/go-thts/internal/mo/simplexmap"
	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/thtsrand"
)

func runSmt(t *testing.T, variant Variant, trials int) *thts.Pool[grid.State, grid.Action] {
	t.Helper()
	mopts := thts.DefaultOptions()
	mopts.MaxDepth = 10
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewMOEnv(2), mopts)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Variant = variant
	opts.SearchTemp = 0.3
	opts.SimplexMap.SplitRule = simplexmap.SplitOrdered
	opts.SimplexMap.SplitVisitThresh = 4
	_, err = New(mgr, opts)
	require.NoError(t, err)

	root, err := mgr.NewRoot()
	require.NoError(t, err)
	pool := thts.NewPool(mgr, root, 2, nil)
	require.NoError(t, pool.Run(context.Background(), trials))
	return pool
}

func TestSmtNeedsMultiObjectiveEnv(t *testing.T) {
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(2), thts.DefaultOptions())
	require.NoError(t, err)
	_, err = New(mgr, DefaultOptions())
	require.Error(t, err)
}

func TestSmbtsRecommendsGoalward(t *testing.T) {
	pool := runSmt(t, Bts, 3000)
	for i := 0; i < 10; i++ {
		action, err := pool.Recommend(thtsrand.New(int64(i), 0))
		require.NoError(t, err)
		require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
	}
}

func TestSmdentsRecommendsGoalward(t *testing.T) {
	pool := runSmt(t, Dents, 3000)
	for i := 0; i < 10; i++ {
		action, err := pool.Recommend(thtsrand.New(int64(100+i), 0))
		require.NoError(t, err)
		require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
	}
}

func TestSmtMapsSubdivideUnderDisagreement(t *testing.T) {
	pool := runSmt(t, Bts, 4000)
	root := pool.Root()

	st := root.Stats.(*DStats)
	require.Greater(t, st.NumBackups, int64(0))

	// Disagreeing value estimates across the weight simplex should have
	// triggered subdivision somewhere in the root or its children.
	refined := st.Map.NumVertices() > 2
	for _, c := range root.Children() {
		if c.Stats.(*CStats).Map.NumVertices() > 2 {
			refined = true
		}
	}
	require.True(t, refined, "expected a simplex map to refine")
}

func TestSmtOnSailing(t *testing.T) {
	mopts := thts.DefaultOptions()
	mopts.MaxDepth = 20
	mgr, err := thts.NewManager[sailing.State, sailing.Direction](sailing.NewEnv(4, 4, sailing.NN), mopts)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.SimplexMap.SplitRule = simplexmap.SplitValueDiff
	_, err = New(mgr, opts)
	require.NoError(t, err)

	root, err := mgr.NewRoot()
	require.NoError(t, err)
	pool := thts.NewPool(mgr, root, 4, nil)
	require.NoError(t, pool.Run(context.Background(), 2000))

	action, err := pool.Recommend(thtsrand.New(5, 0))
	require.NoError(t, err)
	require.Contains(t, root.Actions(), action)
}

package ments

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trialsearch/go-thts/internal/envs/grid"
	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/thtsrand"
)

func runVariant(t *testing.T, optsFn func(*Options)) (*Alg[grid.State, grid.Action], *thts.Pool[grid.State, grid.Action]) {
	t.Helper()
	mopts := thts.DefaultOptions()
	mopts.MaxDepth = 12
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(2), mopts)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Temp = 0.2
	if optsFn != nil {
		optsFn(&opts)
	}
	alg, err := New(mgr, opts)
	require.NoError(t, err)

	root, err := mgr.NewRoot()
	require.NoError(t, err)
	pool := thts.NewPool(mgr, root, 2, nil)
	require.NoError(t, pool.Run(context.Background(), 2000))
	return alg, pool
}

func requireGoalward(t *testing.T, pool *thts.Pool[grid.State, grid.Action]) {
	t.Helper()
	action, err := pool.Recommend(thtsrand.New(77, 0))
	require.NoError(t, err)
	require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)
}

func TestMentsConverges(t *testing.T) {
	_, pool := runVariant(t, nil)
	requireGoalward(t, pool)

	value := RootSoftValue(pool.Root())
	require.False(t, math.IsNaN(value))
	require.InDelta(t, -4.0, value, 1.0)
}

func TestMentsWithMaxHeapMatchesPlainBackup(t *testing.T) {
	_, plainPool := runVariant(t, nil)
	_, heapPool := runVariant(t, func(o *Options) { o.UseMaxHeap = true })
	requireGoalward(t, heapPool)

	plain := RootSoftValue(plainPool.Root())
	fast := RootSoftValue(heapPool.Root())
	require.InDelta(t, plain, fast, 1.0)
}

func TestMentsAliasCaching(t *testing.T) {
	_, pool := runVariant(t, func(o *Options) {
		o.AliasUseCaching = true
		o.ReconstructAliasTableFreq = 4
	})
	requireGoalward(t, pool)
}

func TestDentsConverges(t *testing.T) {
	_, pool := runVariant(t, func(o *Options) {
		o.Variant = Dents
		o.ValueTempInit = 0.5
		o.ValueTempDecayFn = InvSqrtDecay
		o.ValueTempDecayVisitsScale = 50
	})
	requireGoalward(t, pool)

	// Entropy estimates are maintained and non-negative at the root.
	st := pool.Root().Stats.(*DStats[grid.Action])
	require.GreaterOrEqual(t, st.SubtreeEntropy, 0.0)
	require.Greater(t, st.EntBackups, int64(0))
}

func TestRentsConverges(t *testing.T) {
	_, pool := runVariant(t, func(o *Options) { o.Variant = Rents })
	requireGoalward(t, pool)
}

func TestTentsConverges(t *testing.T) {
	_, pool := runVariant(t, func(o *Options) { o.Variant = Tents })
	requireGoalward(t, pool)
}

func TestDBMentsRecommendsByDPValue(t *testing.T) {
	_, pool := runVariant(t, func(o *Options) {
		o.Variant = DBMents
		o.RecommendVisitThreshold = 5
	})
	requireGoalward(t, pool)

	st := pool.Root().Stats.(*DStats[grid.Action])
	require.Greater(t, st.DPBackups, int64(0))
	require.False(t, math.IsInf(st.DPValue, 0))
}

func TestDBMentsAvgReturnMode(t *testing.T) {
	_, pool := runVariant(t, func(o *Options) {
		o.Variant = DBMents
		o.UseAvgReturn = true
	})
	requireGoalward(t, pool)

	st := pool.Root().Stats.(*DStats[grid.Action])
	require.Greater(t, st.AvgBackups, int64(0))
	require.Less(t, st.AvgReturn, 0.0)
}

func TestTemperatureDecay(t *testing.T) {
	require.InDelta(t, 1.0, InvSqrtDecay(1.0, 0.01, 0, 100), 1e-9)
	require.Less(t, InvSqrtDecay(1.0, 0.01, 10000, 100), 0.2)
	require.GreaterOrEqual(t, InvSqrtDecay(1.0, 0.5, 1<<40, 100), 0.5)

	fn, err := DecayFnByName("inv_log")
	require.NoError(t, err)
	require.NotNil(t, fn)
	fn, err = DecayFnByName("")
	require.NoError(t, err)
	require.Nil(t, fn)
	_, err = DecayFnByName("nope")
	require.Error(t, err)
}

func TestSparseActionSetProperties(t *testing.T) {
	mopts := thts.DefaultOptions()
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(2), mopts)
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Variant = Tents
	alg, err := New(mgr, opts)
	require.NoError(t, err)
	root, err := mgr.NewRoot()
	require.NoError(t, err)

	// All q values equal: every action enters the sparse set.
	q := map[grid.Action]float64{grid.Right: 0.5, grid.Down: 0.5}
	set, sum := alg.sparseActionSet(root, q)
	require.Len(t, set, 2)
	require.InDelta(t, 1.0, sum, 1e-12)

	// One dominant value: the sparse set keeps just it.
	q = map[grid.Action]float64{grid.Right: 5.0, grid.Down: 0.0}
	set, sum = alg.sparseActionSet(root, q)
	require.Equal(t, []grid.Action{grid.Right}, set)
	require.InDelta(t, 5.0, sum, 1e-12)
}

func TestOptionsFromParamsRoundTrip(t *testing.T) {
	params := parameters.NewFromConfigString(
		"temp=0.3,epsilon=0.8,use_max_heap=true,alias_use_caching,reconstruct_alias_table_freq=8,recommend_visit_threshold=7")
	opts, err := OptionsFromParams(params)
	require.NoError(t, err)
	require.Equal(t, 0.3, opts.Temp)
	require.Equal(t, 0.8, opts.Epsilon)
	require.True(t, opts.UseMaxHeap)
	require.True(t, opts.AliasUseCaching)
	require.Equal(t, 8, opts.ReconstructAliasTableFreq)
	require.Equal(t, int64(7), opts.RecommendVisitThreshold)
	require.Empty(t, params)
}

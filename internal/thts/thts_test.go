package thts_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trialsearch/go-thts/internal/algorithms/ments"
	"github.com/trialsearch/go-thts/internal/algorithms/uct"
	"github.com/trialsearch/go-thts/internal/envs/grid"
	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// newGridManager builds a manager over the deterministic [0,size]^2 grid.
func newGridManager(t *testing.T, size int, opts thts.Options) *thts.Manager[grid.State, grid.Action] {
	t.Helper()
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(size), opts)
	require.NoError(t, err)
	return mgr
}

func runPool[S, A comparable](t *testing.T, mgr *thts.Manager[S, A], trials, workers int) *thts.Pool[S, A] {
	t.Helper()
	root, err := mgr.NewRoot()
	require.NoError(t, err)
	pool := thts.NewPool(mgr, root, workers, nil)
	require.NoError(t, pool.Run(context.Background(), trials))
	return pool
}

func TestUctOnDeterministicGrid(t *testing.T) {
	opts := thts.DefaultOptions()
	opts.Seed = 60415
	opts.MaxDepth = 12

	mgr := newGridManager(t, 2, opts)
	uctOpts := uct.DefaultOptions()
	uctOpts.Bias = 1.0
	_, err := uct.New(mgr, uctOpts)
	require.NoError(t, err)

	pool := runPool(t, mgr, 2000, 2)
	require.Equal(t, int64(2000), pool.Root().NumVisits())

	rng := thtsrand.New(opts.Seed, 99)
	action, err := pool.Recommend(rng)
	require.NoError(t, err)
	require.Contains(t, []grid.Action{grid.Down, grid.Right}, action)

	// Greedy rollout from the root reaches the goal in 4 steps.
	eval, err := thts.EvaluatePolicy(mgr, pool.Root(), 50, 2)
	require.NoError(t, err)
	require.InDelta(t, -4.0, eval.AvgScalarised, 1.0)
}

func TestMentsOnDeterministicGrid(t *testing.T) {
	opts := thts.DefaultOptions()
	opts.Seed = 60415
	opts.MaxDepth = 12

	mgr := newGridManager(t, 2, opts)
	mentsOpts := ments.DefaultOptions()
	mentsOpts.Temp = 0.1
	alg, err := ments.New(mgr, mentsOpts)
	require.NoError(t, err)

	pool := runPool(t, mgr, 2000, 2)
	root := pool.Root()

	rng := thtsrand.New(opts.Seed, 99)
	ctx := mgr.SampleContext(0, rng)

	root.Lock()
	policy := alg.PolicyAt(root, ctx)
	softValue := ments.SoftValue(root)
	root.Unlock()

	require.GreaterOrEqual(t, policy[grid.Down]+policy[grid.Right], 0.6)
	// The soft value converges to the soft-Bellman optimum: -4 plus the
	// entropy bonus the temperature leaves in.
	require.InDelta(t, -4.0, softValue, 0.35)
}

func TestSinkStateAtRootOnlyVisits(t *testing.T) {
	// A 0-size grid starts at its goal: trials are visit-only no-ops.
	opts := thts.DefaultOptions()
	mgr := newGridManager(t, 0, opts)
	_, err := uct.New(mgr, uct.DefaultOptions())
	require.NoError(t, err)

	pool := runPool(t, mgr, 25, 3)
	require.Equal(t, int64(25), pool.Root().NumVisits())
	require.Equal(t, 0, pool.Root().NumChildren())
}

// brokenEnv returns no actions at a non-sink state.
type brokenEnv struct {
	*grid.Env
}

func (e brokenEnv) ValidActions(s grid.State) []grid.Action { return nil }

func (e brokenEnv) IsSinkState(s grid.State) bool { return false }

func TestEmptyActionSetAtNonSinkIsEnvironmentError(t *testing.T) {
	mgr, err := thts.NewManager[grid.State, grid.Action](brokenEnv{grid.NewEnv(2)}, thts.DefaultOptions())
	require.NoError(t, err)
	_, err = uct.New(mgr, uct.DefaultOptions())
	require.NoError(t, err)

	_, err = mgr.NewRoot()
	require.Error(t, err)
	var envErr *thts.EnvironmentError
	require.ErrorAs(t, err, &envErr)
}

func TestZeroTrialsRecommendation(t *testing.T) {
	opts := thts.DefaultOptions()

	// Without a prior: the first legal action, deterministically.
	mgr := newGridManager(t, 2, opts)
	_, err := uct.New(mgr, uct.DefaultOptions())
	require.NoError(t, err)
	pool := runPool(t, mgr, 0, 1)
	rng := thtsrand.New(1, 0)
	action, err := pool.Recommend(rng)
	require.NoError(t, err)
	require.Equal(t, grid.Right, action)

	// With a prior: its argmax.
	mgr = newGridManager(t, 2, opts)
	mgr.Prior = func(s grid.State, env thts.Env[grid.State, grid.Action]) map[grid.Action]float64 {
		weights := make(map[grid.Action]float64)
		for _, a := range env.ValidActions(s) {
			weights[a] = 0.1
		}
		weights[grid.Down] = 0.7
		return weights
	}
	_, err = uct.New(mgr, uct.DefaultOptions())
	require.NoError(t, err)
	pool = runPool(t, mgr, 0, 1)
	action, err = pool.Recommend(rng)
	require.NoError(t, err)
	require.Equal(t, grid.Down, action)
}

// checkVisitInvariant walks the tree verifying num_visits(parent) >=
// max(num_visits(child)) at every edge (no workers are active).
func checkVisitInvariant(t *testing.T, d *thts.DNode[grid.State, grid.Action]) {
	t.Helper()
	for _, c := range d.Children() {
		require.GreaterOrEqual(t, d.NumVisits(), c.NumVisits())
		var childSum int64
		for _, child := range c.Children() {
			require.GreaterOrEqual(t, c.NumVisits(), child.NumVisits())
			childSum += child.NumVisits()
			checkVisitInvariant(t, child)
		}
		require.LessOrEqual(t, childSum, c.NumVisits())
		require.Equal(t, int64(0), c.VirtualLosses())
	}
}

func TestConcurrentTrialsPreserveVisitInvariants(t *testing.T) {
	opts := thts.DefaultOptions()
	opts.MaxDepth = 16
	mgr, err := thts.NewManager[grid.State, grid.Action](grid.NewStochasticEnv(3, 0.2), opts)
	require.NoError(t, err)
	_, err = uct.New(mgr, uct.DefaultOptions())
	require.NoError(t, err)

	pool := runPool(t, mgr, 3000, 8)
	require.Equal(t, int64(3000), pool.TrialsCompleted())
	checkVisitInvariant(t, pool.Root())
}

func TestRootValueFiniteAfterBackups(t *testing.T) {
	opts := thts.DefaultOptions()
	opts.MaxDepth = 12
	mgr := newGridManager(t, 2, opts)
	_, err := uct.New(mgr, uct.DefaultOptions())
	require.NoError(t, err)

	pool := runPool(t, mgr, 500, 4)
	value := uct.RootValue(pool.Root())
	require.False(t, math.IsNaN(value))
	require.False(t, math.IsInf(value, 0))
	// Step cost -1 over at most MaxDepth steps bounds the utility radius.
	require.GreaterOrEqual(t, value, -float64(opts.MaxDepth))
	require.LessOrEqual(t, value, 0.0)
}

func TestTranspositionMergesPaths(t *testing.T) {
	opts := thts.DefaultOptions()
	opts.UseTransposition = true
	opts.MaxDepth = 10
	mgr := newGridManager(t, 2, opts)
	_, err := uct.New(mgr, uct.DefaultOptions())
	require.NoError(t, err)

	pool := runPool(t, mgr, 2000, 2)
	root := pool.Root()

	// right->down and down->right meet at (1,1) with decision depth 2: with
	// transposition enabled both edges must share one node.
	find := func(first, second grid.Action) *thts.DNode[grid.State, grid.Action] {
		c1, ok := root.Child(first)
		require.True(t, ok)
		d1, ok := c1.Child(grid.State{X: boolToInt(first == grid.Right), Y: boolToInt(first == grid.Down)})
		require.True(t, ok)
		c2, ok := d1.Child(second)
		require.True(t, ok)
		d2, ok := c2.Child(grid.State{X: 1, Y: 1})
		require.True(t, ok)
		return d2
	}
	viaRight := find(grid.Right, grid.Down)
	viaDown := find(grid.Down, grid.Right)
	require.Same(t, viaRight, viaDown)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestLoggerCollectsRows(t *testing.T) {
	opts := thts.DefaultOptions()
	opts.MaxDepth = 12
	mgr := newGridManager(t, 2, opts)
	_, err := uct.New(mgr, uct.DefaultOptions())
	require.NoError(t, err)

	root, err := mgr.NewRoot()
	require.NoError(t, err)
	logger := thts.NewLogger(100, 0, uct.RootValue[grid.State, grid.Action])
	pool := thts.NewPool(mgr, root, 2, logger)
	require.NoError(t, pool.Run(context.Background(), 1000))

	entries := logger.Entries()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	require.Greater(t, last.Trials, int64(0))
	require.NotZero(t, last.RootValue)
}

func TestRewardDimMismatchIsConfigError(t *testing.T) {
	opts := thts.DefaultOptions()
	opts.RewardDim = 3
	_, err := thts.NewManager[grid.State, grid.Action](grid.NewEnv(2), opts)
	require.Error(t, err)
	var cfgErr *thts.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestScalarise(t *testing.T) {
	ctx := thts.NewTrialContext(0, thtsrand.New(1, 0))
	require.Equal(t, -3.0, thts.Scalarise(vecmath.Scalar(-3), ctx))
	ctx.Weight = vecmath.Vec{0.25, 0.75}
	require.InDelta(t, 0.75, thts.Scalarise(vecmath.Vec{0, 1}, ctx), 1e-12)
}

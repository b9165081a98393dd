package grid

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trialsearch/go-thts/internal/thtsrand"
)

func TestValidActionsRespectBoundaries(t *testing.T) {
	env := NewEnv(2)
	require.ElementsMatch(t, []Action{Right, Down}, env.ValidActions(State{0, 0}))
	require.ElementsMatch(t, []Action{Left, Right, Up, Down}, env.ValidActions(State{1, 1}))
	require.ElementsMatch(t, []Action{Left, Up, Down}, env.ValidActions(State{2, 1}))
	require.Empty(t, env.ValidActions(State{2, 2}))
}

func TestTransitions(t *testing.T) {
	env := NewEnv(2)
	distr := env.TransitionDistribution(State{0, 0}, Right)
	require.Equal(t, map[State]float64{{1, 0}: 1.0}, distr)

	stochastic := NewStochasticEnv(2, 0.3)
	distr = stochastic.TransitionDistribution(State{0, 0}, Down)
	require.InDelta(t, 0.7, distr[State{0, 1}], 1e-12)
	require.InDelta(t, 0.3, distr[State{0, 0}], 1e-12)

	rng := thtsrand.New(1, 0)
	stays := 0
	for i := 0; i < 5000; i++ {
		if stochastic.SampleTransition(State{0, 0}, Down, rng) == (State{0, 0}) {
			stays++
		}
	}
	require.InDelta(t, 1500, stays, 200)
}

func TestRewards(t *testing.T) {
	env := NewEnv(2)
	require.Equal(t, 1, env.RewardDim())
	require.Equal(t, -1.0, env.Reward(State{0, 0}, Right, nil)[0])

	mo := NewMOEnv(2)
	require.Equal(t, 2, mo.RewardDim())
	require.True(t, mo.Reward(State{0, 0}, Right, nil).Equal([]float64{-1, 0}))
	require.True(t, mo.Reward(State{0, 0}, Down, nil).Equal([]float64{0, -1}))
}

// Package sailing implements the sailing grid MDP: a boat crosses a grid from
// (0,0) to the opposite corner while the wind direction follows a Markov
// chain. Sailing with the wind is cheap, tacking across it costs more, and
// sailing directly against it is not allowed.
//
// The environment is multi-objective: the first reward component counts time
// steps, the second the tacking cost, so a context weight trades speed
// against sail wear.
package sailing

import (
	"math"

	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// Direction indexes the eight compass directions, clockwise from north.
type Direction int

// Compass directions.
const (
	NN Direction = iota
	NE
	EE
	SE
	SS
	SW
	WW
	NW
)

var deltaX = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
var deltaY = [8]int{1, 1, 0, -1, -1, -1, 0, 1}

// windTransitionProbs[w][nw] is the probability of the wind rotating from w
// to nw in one step.
var windTransitionProbs = [8][8]float64{
	{0.4, 0.3, 0.0, 0.0, 0.0, 0.0, 0.0, 0.3},
	{0.4, 0.3, 0.3, 0.0, 0.0, 0.0, 0.0, 0.0},
	{0.0, 0.4, 0.3, 0.3, 0.0, 0.0, 0.0, 0.0},
	{0.0, 0.0, 0.4, 0.3, 0.3, 0.0, 0.0, 0.0},
	{0.0, 0.0, 0.0, 0.4, 0.2, 0.4, 0.0, 0.0},
	{0.0, 0.0, 0.0, 0.0, 0.3, 0.3, 0.4, 0.0},
	{0.0, 0.0, 0.0, 0.0, 0.0, 0.3, 0.3, 0.4},
	{0.4, 0.0, 0.0, 0.0, 0.0, 0.0, 0.3, 0.3},
}

// State is the boat position plus the current wind direction.
type State struct {
	X, Y int
	Wind Direction
}

// Env is the sailing environment on a width x height grid. The goal is the
// (width-1, height-1) corner.
type Env struct {
	width, height int
	initWind      Direction
}

var (
	_ thts.Env[State, Direction]                  = &Env{}
	_ thts.TransitionEnumerator[State, Direction] = &Env{}
)

// NewEnv builds a sailing environment.
func NewEnv(width, height int, initWind Direction) *Env {
	return &Env{width: width, height: height, initWind: initWind}
}

// InitialState implements thts.Env.
func (e *Env) InitialState() State {
	return State{0, 0, e.initWind}
}

// IsSinkState implements thts.Env.
func (e *Env) IsSinkState(s State) bool {
	return s.X == e.width-1 && s.Y == e.height-1
}

// ValidActions implements thts.Env. Sailing off the grid and sailing directly
// against the wind are disallowed.
func (e *Env) ValidActions(s State) []Direction {
	if e.IsSinkState(s) {
		return nil
	}
	var allowed [8]bool
	for i := range allowed {
		allowed[i] = true
	}

	if s.X == 0 {
		allowed[NW], allowed[WW], allowed[SW] = false, false, false
	} else if s.X == e.width-1 {
		allowed[NE], allowed[EE], allowed[SE] = false, false, false
	}
	if s.Y == 0 {
		allowed[SE], allowed[SS], allowed[SW] = false, false, false
	} else if s.Y == e.height-1 {
		allowed[NE], allowed[NN], allowed[NW] = false, false, false
	}

	againstWind := (int(s.Wind) + 4) % 8
	allowed[againstWind] = false

	var actions []Direction
	for i, ok := range allowed {
		if ok {
			actions = append(actions, Direction(i))
		}
	}
	return actions
}

// TransitionDistribution implements thts.TransitionEnumerator: the boat moves
// deterministically; the wind rotates per its Markov chain.
func (e *Env) TransitionDistribution(s State, a Direction) map[State]float64 {
	distr := make(map[State]float64, 3)
	for nw := 0; nw < 8; nw++ {
		prob := windTransitionProbs[s.Wind][nw]
		if prob > 0 {
			next := State{s.X + deltaX[a], s.Y + deltaY[a], Direction(nw)}
			distr[next] += prob
		}
	}
	return distr
}

// RewardDim implements thts.Env.
func (e *Env) RewardDim() int { return 2 }

// tack is the number of 45-degree turns between the sailing direction and the
// wind direction.
func tack(a Direction, wind Direction) float64 {
	t := math.Abs(float64(a) - float64(wind))
	return math.Min(t, 8.0-t)
}

// Reward implements thts.Env: one unit of time per step, and the tacking
// cost, as separate objectives.
func (e *Env) Reward(s State, a Direction, ctx *thts.TrialContext) vecmath.Vec {
	return vecmath.Vec{-1.0, -tack(a, s.Wind)}
}

// SampleContext is not implemented: the default context (uniform simplex
// weight) is the intended one for this environment.

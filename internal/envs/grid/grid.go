// Package grid implements a small grid-world MDP used by tests and the
// experiment runner. The agent starts at (0,0) and walks to an absorbing goal
// at (size,size), paying one unit of cost per step; an optional stay
// probability makes transitions stochastic.
package grid

import (
	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// State is a grid cell.
type State struct {
	X, Y int
}

// Action is one of "up", "down", "left", "right". Up decreases Y, down
// increases it.
type Action string

// The four movement actions.
const (
	Up    Action = "up"
	Down  Action = "down"
	Left  Action = "left"
	Right Action = "right"
)

// Env is the scalar grid world. Cells range over [0,size] in both axes; the
// goal sits at (size,size).
type Env struct {
	size     int
	stayProb float64

	// moSplit switches to the two-objective variant: horizontal moves cost
	// (-1, 0) and vertical moves (0, -1), so the two objectives count the
	// two kinds of movement separately.
	moSplit bool
}

var (
	_ thts.Env[State, Action]                  = &Env{}
	_ thts.TransitionEnumerator[State, Action] = &Env{}
	_ thts.TransitionSampler[State, Action]    = &Env{}
)

// NewEnv returns a deterministic scalar grid with cells [0,size]^2.
func NewEnv(size int) *Env {
	return &Env{size: size}
}

// NewStochasticEnv returns a grid where each move fails (stays put) with the
// given probability.
func NewStochasticEnv(size int, stayProb float64) *Env {
	return &Env{size: size, stayProb: stayProb}
}

// NewMOEnv returns the two-objective variant of the grid.
func NewMOEnv(size int) *Env {
	return &Env{size: size, moSplit: true}
}

// InitialState implements thts.Env.
func (e *Env) InitialState() State {
	return State{0, 0}
}

// IsSinkState implements thts.Env.
func (e *Env) IsSinkState(s State) bool {
	return s.X == e.size && s.Y == e.size
}

// ValidActions implements thts.Env.
func (e *Env) ValidActions(s State) []Action {
	if e.IsSinkState(s) {
		return nil
	}
	var actions []Action
	if s.X > 0 {
		actions = append(actions, Left)
	}
	if s.X < e.size {
		actions = append(actions, Right)
	}
	if s.Y > 0 {
		actions = append(actions, Up)
	}
	if s.Y < e.size {
		actions = append(actions, Down)
	}
	return actions
}

func (e *Env) move(s State, a Action) State {
	switch a {
	case Left:
		s.X--
	case Right:
		s.X++
	case Up:
		s.Y--
	case Down:
		s.Y++
	}
	return s
}

// TransitionDistribution implements thts.TransitionEnumerator.
func (e *Env) TransitionDistribution(s State, a Action) map[State]float64 {
	next := e.move(s, a)
	distr := map[State]float64{next: 1.0 - e.stayProb}
	if e.stayProb > 0 {
		distr[s] += e.stayProb
	}
	return distr
}

// SampleTransition implements thts.TransitionSampler.
func (e *Env) SampleTransition(s State, a Action, rng *thtsrand.Manager) State {
	if e.stayProb > 0 && rng.Uniform() < e.stayProb {
		return s
	}
	return e.move(s, a)
}

// RewardDim implements thts.Env.
func (e *Env) RewardDim() int {
	if e.moSplit {
		return 2
	}
	return 1
}

// Reward implements thts.Env.
func (e *Env) Reward(s State, a Action, ctx *thts.TrialContext) vecmath.Vec {
	if !e.moSplit {
		return vecmath.Scalar(-1)
	}
	if a == Left || a == Right {
		return vecmath.Vec{-1, 0}
	}
	return vecmath.Vec{0, -1}
}

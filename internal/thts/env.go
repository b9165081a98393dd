// Package thts implements the core of the trial-based heuristic tree search
// library: the environment contract, the shared decision/chance node tree,
// and the concurrent trial pool that drives selection and backup.
//
// Algorithm families (UCT, MENTS, CZT, ...) plug into the core through the
// Algorithm interface; the shared scaffolding -- children maps, mutexes,
// visit counters, heuristic seeding, transposition -- lives here, once.
package thts

import (
	"math"

	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// Env is the contract an environment must satisfy to be searched. State and
// action types are opaque to the core; they are used only as map keys and as
// arguments back into the environment.
//
// Environments are fully observable here: the observation emitted by a
// transition is the successor state itself.
//
// An Env must additionally implement at least one of TransitionEnumerator or
// TransitionSampler; the manager defaults the missing one from the other
// where possible and reports a ConfigError otherwise.
type Env[S, A comparable] interface {
	// InitialState returns the root state of the search.
	InitialState() S

	// IsSinkState reports whether s is terminal.
	IsSinkState(s S) bool

	// ValidActions returns the legal actions at s. It may return an empty
	// slice only at sink states.
	ValidActions(s S) []A

	// RewardDim returns the dimensionality of rewards: 1 for scalar domains,
	// d > 1 for multi-objective domains.
	RewardDim() int

	// Reward returns R(s,a) (or R(s,a,ctx) for context-dependent rewards) as
	// a vector of RewardDim components.
	Reward(s S, a A, ctx *TrialContext) vecmath.Vec
}

// TransitionEnumerator is implemented by environments that can enumerate
// their transition distribution. The returned probabilities must sum to one.
type TransitionEnumerator[S, A comparable] interface {
	TransitionDistribution(s S, a A) map[S]float64
}

// TransitionSampler is implemented by environments that can sample successor
// states directly.
type TransitionSampler[S, A comparable] interface {
	SampleTransition(s S, a A, rng *thtsrand.Manager) S
}

// ContextSampler is implemented by environments that want to supply their own
// per-trial context. The default context carries a uniform-random simplex
// weight for multi-objective environments and nothing for scalar ones.
type ContextSampler interface {
	SampleContext(workerID int, rng *thtsrand.Manager) *TrialContext
}

// HeuristicFn bootstraps a value estimate for a state at node creation.
type HeuristicFn[S, A comparable] func(s S, env Env[S, A]) vecmath.Vec

// PriorFn supplies an action weighting used to bias selection before children
// accumulate statistics. Evaluated once at node creation.
type PriorFn[S, A comparable] func(s S, env Env[S, A]) map[A]float64

// distributionSumTolerance bounds how far an enumerated transition
// distribution may be from summing to one.
const distributionSumTolerance = 1e-6

func checkDistribution[S comparable](distr map[S]float64) error {
	var sum float64
	for _, p := range distr {
		if p < 0 {
			return Environmentf("transition distribution has negative probability %v", p)
		}
		sum += p
	}
	if math.Abs(sum-1.0) > distributionSumTolerance {
		return Environmentf("transition distribution sums to %v, not 1", sum)
	}
	return nil
}

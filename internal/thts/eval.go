package thts

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// EvalResult aggregates Monte-Carlo rollouts of the recommend policy.
type EvalResult struct {
	// AvgReturn is the mean return vector over rollouts.
	AvgReturn vecmath.Vec
	// AvgScalarised is the mean context-scalarised return.
	AvgScalarised float64
	// Rollouts is the number of completed rollouts.
	Rollouts int
}

// EvaluatePolicy estimates the value of a finished search by running greedy
// rollouts of recommend_action from the root. While the rollout stays inside
// the search tree it follows the tree's recommendations; once it falls off,
// actions are drawn uniformly. Rollouts run concurrently, one RNG per
// rollout worker.
func EvaluatePolicy[S, A comparable](
	mgr *Manager[S, A], root *DNode[S, A], numRollouts, numWorkers int,
) (EvalResult, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}

	var mu sync.Mutex
	result := EvalResult{AvgReturn: vecmath.Zero(mgr.RewardDim())}

	var wg errgroup.Group
	wg.SetLimit(numWorkers)
	for i := 0; i < numRollouts; i++ {
		wg.Go(func() error {
			rng := thtsrand.New(mgr.Opts.Seed+1, numRollouts+i)
			ctx := mgr.SampleContext(0, rng)
			ret, err := rolloutOnce(mgr, root, ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Rollouts++
			result.AvgReturn.Add(ret.Sub(result.AvgReturn).Scaled(1.0 / float64(result.Rollouts)))
			scalarised := Scalarise(ret, ctx)
			result.AvgScalarised += (scalarised - result.AvgScalarised) / float64(result.Rollouts)
			mu.Unlock()
			return nil
		})
	}
	err := wg.Wait()
	return result, err
}

func rolloutOnce[S, A comparable](mgr *Manager[S, A], root *DNode[S, A], ctx *TrialContext) (vecmath.Vec, error) {
	total := vecmath.Zero(mgr.RewardDim())
	state := root.State()
	node := root

	for depth := 0; depth < mgr.Opts.MaxDepth; depth++ {
		if mgr.Env.IsSinkState(state) {
			break
		}
		actions := mgr.Env.ValidActions(state)
		if len(actions) == 0 {
			return nil, Environmentf("empty action set at non-sink state %v", state)
		}

		var action A
		var next *DNode[S, A]
		if node != nil {
			node.Lock()
			recommended, err := mgr.Alg.RecommendAction(node, ctx)
			node.Unlock()
			if err != nil {
				return nil, err
			}
			action = recommended
		} else {
			action = actions[ctx.RNG.Int(0, len(actions))]
		}

		total.Add(mgr.Env.Reward(state, action, ctx))

		nextState, err := sampleTransition(mgr, state, action, ctx)
		if err != nil {
			return nil, err
		}

		if node != nil {
			node.Lock()
			if c, ok := node.Child(action); ok {
				c.Lock()
				next, _ = c.Child(nextState)
				c.Unlock()
			}
			node.Unlock()
		}
		node = next
		state = nextState
	}
	return total, nil
}

// sampleTransition draws a successor outside the tree, preferring the
// environment's sampler and falling back to its enumerated distribution.
func sampleTransition[S, A comparable](mgr *Manager[S, A], s S, a A, ctx *TrialContext) (S, error) {
	if sampler, ok := mgr.Env.(TransitionSampler[S, A]); ok {
		return sampler.SampleTransition(s, a, ctx.RNG), nil
	}
	var zero S
	enum, ok := mgr.Env.(TransitionEnumerator[S, A])
	if !ok {
		return zero, Configf("environment can neither enumerate nor sample transitions")
	}
	distr := enum.TransitionDistribution(s, a)
	if err := checkDistribution(distr); err != nil {
		return zero, err
	}
	target := ctx.RNG.Uniform()
	var acc float64
	next := zero
	for state, p := range distr {
		acc += p
		next = state
		if target < acc {
			break
		}
	}
	return next, nil
}

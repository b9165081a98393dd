package thts

import (
	"sync"
	"sync/atomic"

	"github.com/trialsearch/go-thts/internal/vecmath"
)

// CNode is a chance node: the environment samples an observation here. For
// the fully observable environments the core works with, the observation is
// the successor state.
type CNode[S, A comparable] struct {
	mu  sync.Mutex
	mgr *Manager[S, A]

	state    S
	action   A
	depth    int
	timestep int

	parent *DNode[S, A]

	children map[S]*DNode[S, A]

	numVisits atomic.Int64

	// virtualLosses counts workers currently traversing this node. Selection
	// rules treat them as pessimistic placeholder utilities to steer
	// concurrent workers into different subtrees.
	virtualLosses atomic.Int64

	// localReward caches R(s,a), evaluated once at construction.
	localReward vecmath.Vec

	// transition caches the enumerated transition distribution if the
	// environment provides one; nil means sample on demand.
	transition map[S]float64

	Stats CStats
}

// newCNode builds the chance node for taking action a at d. Called with d's
// lock held.
func (m *Manager[S, A]) newCNode(d *DNode[S, A], a A, ctx *TrialContext) *CNode[S, A] {
	c := &CNode[S, A]{
		mgr:      m,
		state:    d.state,
		action:   a,
		depth:    d.depth,
		timestep: d.timestep,
		parent:   d,
		children: make(map[S]*DNode[S, A]),
	}
	c.localReward = m.Env.Reward(d.state, a, ctx)
	if enum, ok := m.Env.(TransitionEnumerator[S, A]); ok {
		c.transition = enum.TransitionDistribution(d.state, a)
	}
	c.Stats = m.Alg.NewCStats(c)
	return c
}

// Lock acquires the node mutex.
func (c *CNode[S, A]) Lock() { c.mu.Lock() }

// Unlock releases the node mutex.
func (c *CNode[S, A]) Unlock() { c.mu.Unlock() }

// Mgr returns the search manager.
func (c *CNode[S, A]) Mgr() *Manager[S, A] { return c.mgr }

// State returns the identifying state.
func (c *CNode[S, A]) State() S { return c.state }

// Action returns the action this edge takes.
func (c *CNode[S, A]) Action() A { return c.action }

// Depth returns the decision depth.
func (c *CNode[S, A]) Depth() int { return c.depth }

// Timestep returns the decision timestep.
func (c *CNode[S, A]) Timestep() int { return c.timestep }

// Parent returns the parent decision node back-edge.
func (c *CNode[S, A]) Parent() *DNode[S, A] { return c.parent }

// LocalReward returns the cached R(s,a).
func (c *CNode[S, A]) LocalReward() vecmath.Vec { return c.localReward }

// NumVisits reads the visit counter.
func (c *CNode[S, A]) NumVisits() int64 { return c.numVisits.Load() }

// VirtualLosses reads the in-flight worker count.
func (c *CNode[S, A]) VirtualLosses() int64 { return c.virtualLosses.Load() }

func (c *CNode[S, A]) addVirtualLoss()    { c.virtualLosses.Add(1) }
func (c *CNode[S, A]) removeVirtualLoss() { c.virtualLosses.Add(-1) }

// OppCoeff mirrors the parent decision node's orientation.
func (c *CNode[S, A]) OppCoeff() float64 {
	if c.mgr.Opts.TwoPlayer && c.timestep%2 == 1 {
		return -1.0
	}
	return 1.0
}

// visit increments the visit counter and runs the family visit hook. Called
// with the node lock held.
func (c *CNode[S, A]) visit(ctx *TrialContext) {
	c.numVisits.Add(1)
	c.mgr.Alg.VisitC(c, ctx)
}

// Child returns the decision node for observation o, if it exists. Caller
// must hold the node lock.
func (c *CNode[S, A]) Child(o S) (*DNode[S, A], bool) {
	d, ok := c.children[o]
	return d, ok
}

// Children exposes the child map for iteration. Caller must hold the node
// lock.
func (c *CNode[S, A]) Children() map[S]*DNode[S, A] { return c.children }

// NumChildren returns the number of created children.
func (c *CNode[S, A]) NumChildren() int { return len(c.children) }

// SampleObservation samples a successor state per the environment's
// transition distribution, creating the child decision node if it is new.
// Caller must hold the node lock. The base contract is independent of the
// algorithm family.
func (c *CNode[S, A]) SampleObservation(ctx *TrialContext) (S, *DNode[S, A], error) {
	var next S
	if c.transition != nil {
		if err := checkDistribution(c.transition); err != nil {
			return next, nil, err
		}
		target := ctx.RNG.Uniform()
		var acc float64
		for s, p := range c.transition {
			acc += p
			next = s
			if target < acc {
				break
			}
		}
	} else if sampler, ok := c.mgr.Env.(TransitionSampler[S, A]); ok {
		next = sampler.SampleTransition(c.state, c.action, ctx.RNG)
	} else {
		return next, nil, Configf("environment can neither enumerate nor sample transitions")
	}

	child, ok := c.children[next]
	if !ok {
		var err error
		child, err = c.mgr.newDNode(next, c.depth+1, c.timestep+1, c)
		if err != nil {
			return next, nil, err
		}
		c.children[next] = child
	}
	return next, child, nil
}

package thts

import (
	"sync"
	"sync/atomic"

	"github.com/trialsearch/go-thts/internal/vecmath"
)

// DNode is a decision node: the searching player (or the opponent, at odd
// timesteps of a two-player domain) chooses an action here.
//
// The scaffolding is identical across algorithm families; the per-family
// statistic lives in Stats. Child chance nodes are created lazily by the
// selection rules and are exclusively owned by their edge.
type DNode[S, A comparable] struct {
	mu  sync.Mutex
	mgr *Manager[S, A]

	state    S
	depth    int
	timestep int

	// parent is a back-edge, used only for read-only traversal of immutable
	// fields (is-root tests); it never owns.
	parent *CNode[S, A]

	actions  []A
	children map[A]*CNode[S, A]

	numVisits atomic.Int64

	heuristic vecmath.Vec
	prior     map[A]float64

	// Stats is the algorithm-specific statistic block. Guarded by the node
	// mutex, except for any atomics the family keeps inside it.
	Stats DStats
}

// newDNode builds a decision node, going through the transposition table when
// enabled. Returns an EnvironmentError for an empty action set at a non-sink
// state.
func (m *Manager[S, A]) newDNode(s S, depth, timestep int, parent *CNode[S, A]) (*DNode[S, A], error) {
	if m.tt != nil {
		if d := m.tt.lookup(dnodeKey[S]{state: s, depth: depth}); d != nil {
			return d, nil
		}
	}

	actions := m.Env.ValidActions(s)
	if len(actions) == 0 && !m.Env.IsSinkState(s) {
		return nil, Environmentf("empty action set at non-sink state %v", s)
	}

	d := &DNode[S, A]{
		mgr:      m,
		state:    s,
		depth:    depth,
		timestep: timestep,
		parent:   parent,
		actions:  actions,
		children: make(map[A]*CNode[S, A], len(actions)),
	}
	d.heuristic = m.heuristicValue(s)
	if m.Prior != nil && !m.Env.IsSinkState(s) {
		d.prior = m.Prior(s, m.Env)
	}
	if m.Heuristic != nil && m.Opts.HeuristicPseudoTrials > 0 {
		d.numVisits.Store(int64(m.Opts.HeuristicPseudoTrials))
	}
	d.Stats = m.Alg.NewDStats(d)

	if m.tt != nil {
		m.tt.insert(dnodeKey[S]{state: s, depth: depth}, d)
	}
	return d, nil
}

// Lock acquires the node mutex. The mutex is non-reentrant; selection always
// releases the parent before acquiring the child.
func (d *DNode[S, A]) Lock() { d.mu.Lock() }

// Unlock releases the node mutex.
func (d *DNode[S, A]) Unlock() { d.mu.Unlock() }

// Mgr returns the search manager.
func (d *DNode[S, A]) Mgr() *Manager[S, A] { return d.mgr }

// State returns the identifying state.
func (d *DNode[S, A]) State() S { return d.state }

// Depth returns the decision depth.
func (d *DNode[S, A]) Depth() int { return d.depth }

// Timestep returns the decision timestep.
func (d *DNode[S, A]) Timestep() int { return d.timestep }

// Parent returns the parent chance node back-edge, nil at the root.
func (d *DNode[S, A]) Parent() *CNode[S, A] { return d.parent }

// Actions returns the cached legal-action list. Immutable after construction.
func (d *DNode[S, A]) Actions() []A { return d.actions }

// Heuristic returns the heuristic value fixed at construction.
func (d *DNode[S, A]) Heuristic() vecmath.Vec { return d.heuristic }

// Prior returns the action prior fixed at construction, or nil.
func (d *DNode[S, A]) Prior() map[A]float64 { return d.prior }

// NumVisits reads the visit counter.
func (d *DNode[S, A]) NumVisits() int64 { return d.numVisits.Load() }

// IsRoot reports whether this node has no parent edge.
func (d *DNode[S, A]) IsRoot() bool { return d.parent == nil }

// IsSink reports whether the node has no legal actions.
func (d *DNode[S, A]) IsSink() bool { return len(d.actions) == 0 }

// IsOpponent reports whether this node selects for the minimising player.
func (d *DNode[S, A]) IsOpponent() bool {
	return d.mgr.Opts.TwoPlayer && d.timestep%2 == 1
}

// OppCoeff returns -1 at opponent nodes and +1 otherwise. Values are always
// stored with respect to the maximising player.
func (d *DNode[S, A]) OppCoeff() float64 {
	if d.IsOpponent() {
		return -1.0
	}
	return 1.0
}

// visit increments the visit counter and runs the family visit hook. Called
// with the node lock held.
func (d *DNode[S, A]) visit(ctx *TrialContext) {
	d.numVisits.Add(1)
	d.mgr.Alg.VisitD(d, ctx)
}

// Child returns the chance node for action a, if it exists. Caller must hold
// the node lock (or otherwise guarantee no concurrent insertion).
func (d *DNode[S, A]) Child(a A) (*CNode[S, A], bool) {
	c, ok := d.children[a]
	return c, ok
}

// Children exposes the child map for iteration. Caller must hold the node
// lock.
func (d *DNode[S, A]) Children() map[A]*CNode[S, A] { return d.children }

// NumChildren returns the number of created children.
func (d *DNode[S, A]) NumChildren() int { return len(d.children) }

// CreateChildIfMissing makes the chance node for action a if it does not
// exist yet. Caller must hold the node lock.
func (d *DNode[S, A]) CreateChildIfMissing(a A, ctx *TrialContext) *CNode[S, A] {
	if c, ok := d.children[a]; ok {
		return c
	}
	c := d.mgr.newCNode(d, a, ctx)
	d.children[a] = c
	return c
}

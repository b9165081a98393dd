// Package chmcts implements convex-hull MCTS: nodes maintain the finite set
// of tagged value vectors optimal under some linear scalarisation. A chance
// node's hull is the local reward plus the backup-weighted Minkowski mixture
// of its children's hulls; a decision node's hull is the pruned union of its
// children's. Recommendation picks the tag of the hull point maximising the
// trial's context weight.
package chmcts

import (
	"math"

	"github.com/pkg/errors"

	"github.com/trialsearch/go-thts/internal/generics"
	"github.com/trialsearch/go-thts/internal/mo/convexhull"
	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
)

// Options configure CHMCTS.
type Options struct {
	// Bias scales the UCB exploration term over scalarised hull utilities.
	Bias float64
}

// DefaultOptions returns the CHMCTS option defaults.
func DefaultOptions() Options {
	return Options{Bias: 1.0}
}

// OptionsFromParams parses CHMCTS options out of params.
func OptionsFromParams(params parameters.Params) (Options, error) {
	opts := DefaultOptions()
	var err error
	if opts.Bias, err = parameters.PopParamOr(params, "bias", opts.Bias); err != nil {
		return opts, err
	}
	return opts, nil
}

// Alg is the CHMCTS algorithm.
type Alg[S, A comparable] struct {
	mgr  *thts.Manager[S, A]
	opts Options
}

var _ thts.Algorithm[int, int] = &Alg[int, int]{}

// New attaches CHMCTS to the manager. The environment must be
// multi-objective.
func New[S, A comparable](mgr *thts.Manager[S, A], opts Options) (*Alg[S, A], error) {
	if mgr.RewardDim() < 2 {
		return nil, thts.Configf("chmcts needs a multi-objective environment, reward dim is %d", mgr.RewardDim())
	}
	a := &Alg[S, A]{mgr: mgr, opts: opts}
	mgr.Alg = a
	return a, nil
}

// NewFromParams builds the algorithm from a parameter map.
func NewFromParams[S, A comparable](mgr *thts.Manager[S, A], params parameters.Params) (*Alg[S, A], error) {
	opts, err := OptionsFromParams(params)
	if err != nil {
		return nil, errors.Wrap(err, "parsing chmcts params")
	}
	return New(mgr, opts)
}

// Name implements thts.Algorithm.
func (a *Alg[S, A]) Name() string { return "chmcts" }

// DStats is the decision node's convex hull, tagged by actions, plus a
// backup count.
type DStats[A comparable] struct {
	NumBackups int64
	Hull       convexhull.Hull[A]
}

// CStats is the chance node's convex hull.
type CStats[A comparable] struct {
	NumBackups int64
	Hull       convexhull.Hull[A]
}

func dstats[S, A comparable](d *thts.DNode[S, A]) *DStats[A] {
	return d.Stats.(*DStats[A])
}

func cstats[S, A comparable](c *thts.CNode[S, A]) *CStats[A] {
	return c.Stats.(*CStats[A])
}

// NewDStats implements thts.Algorithm: the hull starts from the heuristic
// value vector.
func (a *Alg[S, A]) NewDStats(d *thts.DNode[S, A]) thts.DStats {
	var noAction A
	return &DStats[A]{Hull: convexhull.FromValue(d.Heuristic(), noAction)}
}

// NewCStats implements thts.Algorithm.
func (a *Alg[S, A]) NewCStats(c *thts.CNode[S, A]) thts.CStats {
	return &CStats[A]{Hull: convexhull.Empty[A]()}
}

// VisitD implements thts.Algorithm.
func (a *Alg[S, A]) VisitD(d *thts.DNode[S, A], ctx *thts.TrialContext) {
	// Leaf backup counts advance on visit, mirroring the soft-backup
	// weighting convention.
	if d.IsSink() || d.Depth() >= a.mgr.Opts.MaxDepth {
		dstats[S, A](d).NumBackups++
	}
}

// VisitC implements thts.Algorithm.
func (a *Alg[S, A]) VisitC(c *thts.CNode[S, A], ctx *thts.TrialContext) {}

// SelectAction implements thts.Algorithm: UCB over the scalarised hull
// utilities under the trial's context weight, pulling untried actions first.
func (a *Alg[S, A]) SelectAction(d *thts.DNode[S, A], ctx *thts.TrialContext) (A, error) {
	var untried []A
	for _, action := range d.Actions() {
		if _, ok := d.Child(action); !ok {
			untried = append(untried, action)
		}
	}
	if len(untried) > 0 {
		action := untried[ctx.RNG.Int(0, len(untried))]
		d.CreateChildIfMissing(action, ctx)
		return action, nil
	}

	oppCoeff := d.OppCoeff()
	values := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		child, _ := d.Child(action)
		child.Lock()
		utility := oppCoeff * cstats(child).Hull.MaxLinearUtility(ctx.Weight)
		visits := child.NumVisits()
		child.Unlock()
		values[action] = utility + a.opts.Bias*math.Sqrt(math.Log(float64(d.NumVisits())+1)/math.Max(1, float64(visits)))
	}
	action := generics.ArgMax(values, func(numTied int) bool {
		return ctx.RNG.Int(0, numTied) == 0
	})
	d.CreateChildIfMissing(action, ctx)
	return action, nil
}

// RecommendAction implements thts.Algorithm: the tag of the hull point
// maximising the context weight, with random tie-break.
func (a *Alg[S, A]) RecommendAction(d *thts.DNode[S, A], ctx *thts.TrialContext) (A, error) {
	var zero A
	if d.IsSink() {
		return zero, thts.Environmentf("recommend_action called at a sink state")
	}
	st := dstats[S, A](d)
	if d.NumChildren() == 0 || st.Hull.Size() == 0 {
		return d.Actions()[0], nil
	}
	best := st.Hull.BestPoint(ctx.Weight, ctx.RNG)
	if _, ok := d.Child(best.Tag); !ok {
		// The hull can still hold the untagged heuristic point.
		return d.Actions()[0], nil
	}
	return best.Tag, nil
}

// BackupD implements thts.Algorithm: the union of the child chance-node
// hulls, pruned.
func (a *Alg[S, A]) BackupD(d *thts.DNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	st := dstats[S, A](d)
	st.NumBackups++

	hull := convexhull.Empty[A]()
	var err error
	for _, child := range d.Children() {
		child.Lock()
		childHull := cstats(child).Hull
		child.Unlock()
		hull, err = hull.Union(childHull)
		if err != nil {
			return err
		}
	}
	if hull.Size() > 0 {
		st.Hull = hull
	}
	return nil
}

// BackupC implements thts.Algorithm: the backup-weighted Minkowski mixture of
// the child decision-node hulls, shifted by the local reward and retagged
// with this node's action.
func (a *Alg[S, A]) BackupC(c *thts.CNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	st := cstats(c)
	st.NumBackups++

	type childHull struct {
		hull    convexhull.Hull[A]
		backups int64
	}
	var children []childHull
	var totalBackups int64
	for _, child := range c.Children() {
		child.Lock()
		ds := dstats[S, A](child)
		children = append(children, childHull{hull: ds.Hull, backups: ds.NumBackups})
		totalBackups += ds.NumBackups
		child.Unlock()
	}
	if totalBackups == 0 {
		return nil
	}

	hull := convexhull.Empty[A]()
	var err error
	for _, ch := range children {
		if ch.backups == 0 {
			continue
		}
		scaled := ch.hull.Scale(float64(ch.backups) / float64(totalBackups))
		hull, err = hull.Add(scaled)
		if err != nil {
			return err
		}
	}
	st.Hull = hull.Shift(c.LocalReward()).WithTag(c.Action())
	return nil
}

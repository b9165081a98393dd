// Package czt implements contextual zooming for trees: a multi-objective
// search whose chance nodes carry ball lists over the weight simplex. Per
// trial a context weight is drawn; selection scores each action through the
// most refined balls covering that weight, and backup folds the return suffix
// into the ball the trial descended through.
package czt

import (
	"math"

	"github.com/pkg/errors"

	"github.com/trialsearch/go-thts/internal/generics"
	"github.com/trialsearch/go-thts/internal/mo/balllist"
	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
)

// Options configure CZT.
type Options struct {
	// Bias scales the confidence-radius exploration term.
	Bias float64

	// SplitThreshold is the number of backups a ball needs before it may
	// spawn a child ball (num_backups_before_allowed_to_split).
	SplitThreshold int
}

// DefaultOptions returns the CZT option defaults.
func DefaultOptions() Options {
	return Options{
		Bias:           1.0,
		SplitThreshold: 10,
	}
}

// OptionsFromParams parses CZT options out of params.
func OptionsFromParams(params parameters.Params) (Options, error) {
	opts := DefaultOptions()
	var err error
	if opts.Bias, err = parameters.PopParamOr(params, "bias", opts.Bias); err != nil {
		return opts, err
	}
	if opts.SplitThreshold, err = parameters.PopParamOr(params, "num_backups_before_allowed_to_split", opts.SplitThreshold); err != nil {
		return opts, err
	}
	return opts, nil
}

// Alg is the CZT algorithm.
type Alg[S, A comparable] struct {
	mgr  *thts.Manager[S, A]
	opts Options
}

var _ thts.Algorithm[int, int] = &Alg[int, int]{}

// New attaches CZT to the manager. The environment must be multi-objective.
func New[S, A comparable](mgr *thts.Manager[S, A], opts Options) (*Alg[S, A], error) {
	if mgr.RewardDim() < 2 {
		return nil, thts.Configf("czt needs a multi-objective environment, reward dim is %d", mgr.RewardDim())
	}
	a := &Alg[S, A]{mgr: mgr, opts: opts}
	mgr.Alg = a
	return a, nil
}

// NewFromParams builds the algorithm from a parameter map.
func NewFromParams[S, A comparable](mgr *thts.Manager[S, A], params parameters.Params) (*Alg[S, A], error) {
	opts, err := OptionsFromParams(params)
	if err != nil {
		return nil, errors.Wrap(err, "parsing czt params")
	}
	return New(mgr, opts)
}

// Name implements thts.Algorithm.
func (a *Alg[S, A]) Name() string { return "czt" }

// DStats carries no decision-node statistic: all CZT state lives in the
// chance nodes' ball lists.
type DStats struct{}

// CStats is the chance node's ball list.
type CStats struct {
	Balls *balllist.List
}

// NewDStats implements thts.Algorithm.
func (a *Alg[S, A]) NewDStats(d *thts.DNode[S, A]) thts.DStats { return &DStats{} }

// NewCStats implements thts.Algorithm.
func (a *Alg[S, A]) NewCStats(c *thts.CNode[S, A]) thts.CStats {
	return &CStats{Balls: balllist.NewList(a.mgr.RewardDim(), a.opts.SplitThreshold)}
}

func cstats[S, A comparable](c *thts.CNode[S, A]) *CStats {
	return c.Stats.(*CStats)
}

// VisitD implements thts.Algorithm.
func (a *Alg[S, A]) VisitD(d *thts.DNode[S, A], ctx *thts.TrialContext) {}

// VisitC implements thts.Algorithm.
func (a *Alg[S, A]) VisitC(c *thts.CNode[S, A], ctx *thts.TrialContext) {}

// fillCZValues computes per-action indices and the ball achieving them.
//
// An unvisited action gets the optimistic index of a fresh unit ball. A
// visited action starts from the per-ball pre-index
//
//	opp_coeff * weight.avg_return + 2*radius + bias*confidence_radius
//
// over the balls relevant to the context weight; its index is the max over
// those balls of the pre-index improved by any larger ball's pre-index plus
// the distance between centers, steering exploration toward broader regions.
func (a *Alg[S, A]) fillCZValues(
	d *thts.DNode[S, A], ctx *thts.TrialContext,
) (values map[A]float64, balls map[A]*balllist.Ball, err error) {
	oppCoeff := d.OppCoeff()
	values = make(map[A]float64, len(d.Actions()))
	balls = make(map[A]*balllist.Ball, len(d.Actions()))

	preIndex := func(ball *balllist.Ball, totalBackups int) float64 {
		return oppCoeff*ball.ScalarisedValue(ctx.Weight) +
			2.0*ball.Radius() +
			a.opts.Bias*ball.ConfidenceRadius(totalBackups)
	}

	for _, action := range d.Actions() {
		child, ok := d.Child(action)
		if !ok {
			const unitBallRadius = 1.0
			values[action] = 2.0*unitBallRadius + a.opts.Bias*math.Sqrt(math.Log(float64(d.NumVisits())+3))
			balls[action] = nil
			continue
		}

		list := cstats(child).Balls
		relevant, err := list.RelevantBalls(ctx.Weight)
		if err != nil {
			return nil, nil, err
		}
		total := int(d.NumVisits())

		actionValue := math.Inf(-1)
		var actionBall *balllist.Ball
		for _, ball := range relevant {
			index := preIndex(ball, total)
			for _, larger := range list.BallsWithMinRadius(ball.Radius()) {
				if candidate := preIndex(larger, total) + ball.Center().Dist(larger.Center()); candidate > index {
					index = candidate
				}
			}
			if index > actionValue {
				actionValue = index
				actionBall = ball
			}
		}
		values[action] = actionValue
		balls[action] = actionBall
	}
	return values, balls, nil
}

// SelectAction implements thts.Algorithm: pick the action of largest index,
// recording the chosen ball in the context for backup.
func (a *Alg[S, A]) SelectAction(d *thts.DNode[S, A], ctx *thts.TrialContext) (A, error) {
	var zero A
	values, balls, err := a.fillCZValues(d, ctx)
	if err != nil {
		return zero, err
	}
	action := generics.ArgMax(values, func(numTied int) bool {
		return ctx.RNG.Int(0, numTied) == 0
	})

	slot := ctx.Slot(d.Depth())
	slot.Action = action
	slot.Ball = balls[action]

	d.CreateChildIfMissing(action, ctx)
	return action, nil
}

// RecommendAction implements thts.Algorithm: the action whose relevant balls
// achieve the best scalarised average return under the context weight.
func (a *Alg[S, A]) RecommendAction(d *thts.DNode[S, A], ctx *thts.TrialContext) (A, error) {
	var zero A
	if d.IsSink() {
		return zero, thts.Environmentf("recommend_action called at a sink state")
	}
	if d.NumChildren() == 0 {
		return d.Actions()[0], nil
	}

	values := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		child, ok := d.Child(action)
		if !ok {
			continue
		}
		relevant, err := cstats(child).Balls.RelevantBalls(ctx.Weight)
		if err != nil {
			return zero, err
		}
		best := math.Inf(-1)
		for _, ball := range relevant {
			if v := ball.ScalarisedValue(ctx.Weight); v > best {
				best = v
			}
		}
		values[action] = best
	}
	return generics.ArgMax(values, func(numTied int) bool {
		return ctx.RNG.Int(0, numTied) == 0
	}), nil
}

// BackupD implements thts.Algorithm: the update happens through the child
// chance node's ball list, into the ball recorded during selection. A nil
// recorded ball means the child was created this trial, so the update goes to
// its initial covering ball.
func (a *Alg[S, A]) BackupD(d *thts.DNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	slot := ctx.Slot(d.Depth())
	action, ok := slot.Action.(A)
	if !ok {
		return thts.Invariantf("czt backup found no selected action at depth %d", d.Depth())
	}
	child, ok := d.Child(action)
	if !ok {
		return thts.Invariantf("czt backup found no child for selected action at depth %d", d.Depth())
	}

	list := cstats(child).Balls
	ball, _ := slot.Ball.(*balllist.Ball)
	if ball == nil {
		ball = list.InitBall()
	}
	list.AvgReturnUpdate(bk.ReturnAfter, ctx.Weight, ball)
	return nil
}

// BackupC implements thts.Algorithm: a no-op, the decision-node backup above
// already updated this node's ball list.
func (a *Alg[S, A]) BackupC(c *thts.CNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	return nil
}

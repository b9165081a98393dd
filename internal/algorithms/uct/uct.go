// Package uct implements the UCT family of selection and backup rules: plain
// UCB1 over empirical action values, a PUCT variant with prior-weighted
// exploration, and the HMCTS sequential-halving mode for nodes with a large
// visit budget.
package uct

import (
	"math"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/trialsearch/go-thts/internal/generics"
	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
)

// UseAutoBias as the Bias option enables the adaptive bias: the bias becomes
// the largest child absolute value, floored at AutoBiasMinBias.
const UseAutoBias = -1.0

// AutoBiasMinBias floors the adaptive bias.
const AutoBiasMinBias = 0.5

// Options configure the UCT family.
type Options struct {
	// Bias scales the exploration term; UseAutoBias enables adaptive bias.
	Bias float64

	// EpsilonExploration replaces the UCB choice by a uniform random action
	// with this probability.
	EpsilonExploration float64

	// RecommendMostVisited switches recommendation from max empirical value
	// to most-visited child.
	RecommendMostVisited bool

	// VirtualLossUtility is the pessimistic utility attributed to in-flight
	// trials when discounting a child's score.
	VirtualLossUtility float64

	// UsePuct switches selection to the prior-weighted PUCT rule (requires a
	// prior on the manager). See PuctOptions.
	UsePuct bool
	Puct    PuctOptions

	// SequentialHalving enables HMCTS: nodes whose total visit budget
	// exceeds BudgetThreshold run sequential-halving rounds instead of UCB.
	SequentialHalving bool
	TotalBudget       int64
	BudgetThreshold   int64
}

// DefaultOptions returns the UCT option defaults.
func DefaultOptions() Options {
	return Options{
		Bias:               1.0,
		VirtualLossUtility: -1.0,
		Puct:               DefaultPuctOptions(),
	}
}

// OptionsFromParams parses UCT options out of params.
func OptionsFromParams(params parameters.Params) (Options, error) {
	opts := DefaultOptions()
	var err error
	if opts.Bias, err = parameters.PopParamOr(params, "bias", opts.Bias); err != nil {
		return opts, err
	}
	if opts.EpsilonExploration, err = parameters.PopParamOr(params, "epsilon_exploration", opts.EpsilonExploration); err != nil {
		return opts, err
	}
	if opts.RecommendMostVisited, err = parameters.PopParamOr(params, "recommend_most_visited", opts.RecommendMostVisited); err != nil {
		return opts, err
	}
	if opts.UsePuct, err = parameters.PopParamOr(params, "use_puct", opts.UsePuct); err != nil {
		return opts, err
	}
	if opts.SequentialHalving, err = parameters.PopParamOr(params, "seq_halving", opts.SequentialHalving); err != nil {
		return opts, err
	}
	if opts.TotalBudget, err = parameters.PopParamOr(params, "total_budget", opts.TotalBudget); err != nil {
		return opts, err
	}
	if opts.BudgetThreshold, err = parameters.PopParamOr(params, "uct_budget_threshold", opts.BudgetThreshold); err != nil {
		return opts, err
	}
	if opts.Puct, err = puctOptionsFromParams(params, opts.Puct); err != nil {
		return opts, err
	}
	return opts, nil
}

// Alg is the UCT algorithm. One instance serves all workers.
type Alg[S, A comparable] struct {
	mgr  *thts.Manager[S, A]
	opts Options
}

var _ thts.Algorithm[int, int] = &Alg[int, int]{}

// New attaches a UCT algorithm to the manager.
func New[S, A comparable](mgr *thts.Manager[S, A], opts Options) (*Alg[S, A], error) {
	if opts.SequentialHalving && opts.TotalBudget <= 0 {
		return nil, thts.Configf("sequential halving needs a positive total budget")
	}
	if opts.UsePuct && mgr.Prior == nil {
		return nil, thts.Configf("puct selection needs a prior function")
	}
	a := &Alg[S, A]{mgr: mgr, opts: opts}
	mgr.Alg = a
	return a, nil
}

// NewFromParams builds the algorithm from a parameter map.
func NewFromParams[S, A comparable](mgr *thts.Manager[S, A], params parameters.Params) (*Alg[S, A], error) {
	opts, err := OptionsFromParams(params)
	if err != nil {
		return nil, errors.Wrap(err, "parsing uct params")
	}
	return New(mgr, opts)
}

// Name implements thts.Algorithm.
func (a *Alg[S, A]) Name() string {
	switch {
	case a.opts.SequentialHalving:
		return "hmcts"
	case a.opts.UsePuct:
		return "puct"
	}
	return "uct"
}

// DStats is the UCT decision-node statistic: a running average of trial
// returns, plus the sequential-halving bookkeeping when HMCTS is active.
type DStats[A comparable] struct {
	NumBackups int64
	AvgReturn  float64

	// Sequential halving state; budgets are atomic because parents push
	// budgets into children they do not hold the lock of.
	totalBudget         atomic.Int64
	budgetOnLastVisit   int64
	roundBudgetPerChild int64
	halvingActions      []A
}

// CStats is the UCT chance-node statistic.
type CStats struct {
	NumBackups int64
	AvgReturn  float64

	totalBudget atomic.Int64
}

// NewDStats implements thts.Algorithm. A heuristic seeds the running average
// and the pseudo-trial counts.
func (a *Alg[S, A]) NewDStats(d *thts.DNode[S, A]) thts.DStats {
	st := &DStats[A]{}
	if a.mgr.Heuristic != nil {
		st.NumBackups = int64(a.mgr.Opts.HeuristicPseudoTrials)
		st.AvgReturn = d.Heuristic()[0]
	}
	return st
}

// NewCStats implements thts.Algorithm.
func (a *Alg[S, A]) NewCStats(c *thts.CNode[S, A]) thts.CStats {
	return &CStats{}
}

func dstats[S, A comparable](d *thts.DNode[S, A]) *DStats[A] {
	return d.Stats.(*DStats[A])
}

func cstats[S, A comparable](c *thts.CNode[S, A]) *CStats {
	return c.Stats.(*CStats)
}

// VisitD implements thts.Algorithm: sequential-halving budget bookkeeping.
// Nobody sets the root's budget, so it seeds its own on the first visit.
func (a *Alg[S, A]) VisitD(d *thts.DNode[S, A], ctx *thts.TrialContext) {
	if !a.opts.SequentialHalving {
		return
	}
	// The visit counter has already been advanced for this trial.
	if d.IsRoot() && d.NumVisits() <= 1 {
		dstats[S, A](d).totalBudget.Store(a.opts.TotalBudget)
	}
	if a.runningSeqHalving(d) {
		a.visitUpdateBudgets(d)
	}
}

// VisitC implements thts.Algorithm: pass the node budget down to existing
// children when halving.
func (a *Alg[S, A]) VisitC(c *thts.CNode[S, A], ctx *thts.TrialContext) {
	if !a.opts.SequentialHalving {
		return
	}
	budget := cstats(c).totalBudget.Load()
	if budget <= 0 {
		return
	}
	for _, child := range c.Children() {
		dstats[S, A](child).totalBudget.Store(budget)
	}
}

// childSnapshot holds (visits, avgReturn, backups) for the child of each
// action, taking each child lock briefly.
type childSnapshot struct {
	exists     bool
	visits     int64
	virtual    int64
	avgReturn  float64
	numBackups int64
}

func (a *Alg[S, A]) snapshotChildren(d *thts.DNode[S, A]) map[A]childSnapshot {
	snap := make(map[A]childSnapshot, len(d.Actions()))
	for _, action := range d.Actions() {
		c, ok := d.Child(action)
		if !ok {
			snap[action] = childSnapshot{}
			continue
		}
		c.Lock()
		st := cstats(c)
		snap[action] = childSnapshot{
			exists:     true,
			visits:     c.NumVisits(),
			virtual:    c.VirtualLosses(),
			avgReturn:  st.AvgReturn,
			numBackups: st.NumBackups,
		}
		c.Unlock()
	}
	return snap
}

// discountVirtualLosses folds in-flight trials into a child utility as
// pessimistic placeholder results.
func (a *Alg[S, A]) discountVirtualLosses(utility float64, snap childSnapshot) float64 {
	if snap.virtual <= 0 {
		return utility
	}
	vlWeight := float64(snap.virtual)
	childWeight := math.Max(0.25, float64(snap.visits))
	return utility + (a.opts.VirtualLossUtility-utility)*vlWeight/(vlWeight+childWeight)
}

func ucbTerm(numVisits, childVisits int64) float64 {
	n := float64(numVisits)
	if n <= 0 {
		n = 1
	}
	cn := float64(childVisits)
	if cn <= 0 {
		cn = 1
	}
	return math.Sqrt(math.Log(n) / cn)
}

// fillUcbValues computes the UCB score per action:
//
//	opp_coeff*Q(s,a) + prior(a) * bias * sqrt(log N(s) / N(s,a))
//
// with the adaptive bias from PROST when enabled.
func (a *Alg[S, A]) fillUcbValues(d *thts.DNode[S, A], snap map[A]childSnapshot) map[A]float64 {
	oppCoeff := d.OppCoeff()

	bias := a.opts.Bias
	if bias == UseAutoBias {
		bias = AutoBiasMinBias
		for _, s := range snap {
			if s.exists && math.Abs(s.avgReturn) > bias {
				bias = math.Abs(s.avgReturn)
			}
		}
	}

	values := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		s := snap[action]
		value := ucbTerm(d.NumVisits(), s.visits) * bias
		if prior := d.Prior(); prior != nil {
			value *= prior[action]
		}
		if s.exists {
			value += a.discountVirtualLosses(oppCoeff*s.avgReturn, s)
		}
		values[action] = value
	}
	return values
}

func (a *Alg[S, A]) randTieBreak(ctx *thts.TrialContext) func(numTied int) bool {
	return func(numTied int) bool {
		return ctx.RNG.Int(0, numTied) == 0
	}
}

func (a *Alg[S, A]) selectActionRandom(d *thts.DNode[S, A], ctx *thts.TrialContext) A {
	action := d.Actions()[ctx.RNG.Int(0, len(d.Actions()))]
	d.CreateChildIfMissing(action, ctx)
	return action
}

func (a *Alg[S, A]) selectActionUcb(d *thts.DNode[S, A], ctx *thts.TrialContext) A {
	// Without a prior, pull each arm once first.
	if d.Prior() == nil {
		var untried []A
		for _, action := range d.Actions() {
			if _, ok := d.Child(action); !ok {
				untried = append(untried, action)
			}
		}
		if len(untried) > 0 {
			action := untried[ctx.RNG.Int(0, len(untried))]
			d.CreateChildIfMissing(action, ctx)
			return action
		}
	}

	snap := a.snapshotChildren(d)
	values := a.fillUcbValues(d, snap)
	action := generics.ArgMax(values, a.randTieBreak(ctx))
	d.CreateChildIfMissing(action, ctx)
	return action
}

// SelectAction implements thts.Algorithm.
func (a *Alg[S, A]) SelectAction(d *thts.DNode[S, A], ctx *thts.TrialContext) (A, error) {
	if a.opts.SequentialHalving && a.runningSeqHalving(d) {
		return a.selectActionSequentialHalving(d, ctx), nil
	}
	if a.opts.EpsilonExploration > 0 && ctx.RNG.Bool(a.opts.EpsilonExploration) {
		return a.selectActionRandom(d, ctx), nil
	}
	if a.opts.UsePuct {
		return a.selectActionPuct(d, ctx), nil
	}
	return a.selectActionUcb(d, ctx), nil
}

// RecommendAction implements thts.Algorithm: max empirical value or
// most-visited child, ties broken at random. A root with no children falls
// back on the prior, then on the first legal action.
func (a *Alg[S, A]) RecommendAction(d *thts.DNode[S, A], ctx *thts.TrialContext) (A, error) {
	var zero A
	if d.IsSink() {
		return zero, thts.Environmentf("recommend_action called at a sink state")
	}
	if d.NumChildren() == 0 {
		if prior := d.Prior(); prior != nil {
			return generics.ArgMax(prior, nil), nil
		}
		return d.Actions()[0], nil
	}

	snap := a.snapshotChildren(d)
	oppCoeff := d.OppCoeff()
	if a.opts.RecommendMostVisited {
		visits := make(map[A]int64, len(snap))
		for action, s := range snap {
			if s.exists {
				visits[action] = s.visits
			}
		}
		return generics.ArgMax(visits, a.randTieBreak(ctx)), nil
	}
	values := make(map[A]float64, len(snap))
	for action, s := range snap {
		if s.exists {
			values[action] = oppCoeff * s.avgReturn
		}
	}
	return generics.ArgMax(values, a.randTieBreak(ctx)), nil
}

// BackupD implements thts.Algorithm: a running average of the return suffix,
// or a DP-style max over child values in mcts_mode.
func (a *Alg[S, A]) BackupD(d *thts.DNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	st := dstats[S, A](d)
	st.NumBackups++
	if !a.mgr.Opts.MctsMode {
		ret := thts.Scalarise(bk.ReturnAfter, ctx)
		st.AvgReturn += (ret - st.AvgReturn) / float64(st.NumBackups)
		return nil
	}

	// DP backup: V(s) = max_a Q(s,a), min at opponent nodes. Children with
	// zero backups are skipped so concurrent half-initialised children can't
	// erase real values.
	oppCoeff := d.OppCoeff()
	best := math.Inf(-1)
	for _, c := range d.Children() {
		c.Lock()
		cs := cstats(c)
		if cs.NumBackups > 0 && oppCoeff*cs.AvgReturn > best {
			best = oppCoeff * cs.AvgReturn
		}
		c.Unlock()
	}
	if !math.IsInf(best, -1) {
		st.AvgReturn = oppCoeff * best
	}
	return nil
}

// BackupC implements thts.Algorithm: running average of the return suffix.
func (a *Alg[S, A]) BackupC(c *thts.CNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	st := cstats(c)
	st.NumBackups++
	ret := thts.Scalarise(bk.ReturnAfter, ctx)
	st.AvgReturn += (ret - st.AvgReturn) / float64(st.NumBackups)
	return nil
}

// RootValue is a logger hook reading the root's running average.
func RootValue[S, A comparable](root *thts.DNode[S, A]) float64 {
	return dstats[S, A](root).AvgReturn
}

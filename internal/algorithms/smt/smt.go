// Package smt implements the simplex-map family: SMBTS (Boltzmann tree
// search over simplex-map value estimates) and SMDENTS (SMBTS plus decayed
// entropy bonuses). Every node carries a simplex map over the weight simplex;
// selection reads the estimate of the vertex closest to the trial's context
// weight, and backup writes the best per-action Q vector onto that vertex,
// subdivides the containing simplex when estimates disagree, and message
// passes over the neighbourhood graph.
package smt

import (
	"math"

	"github.com/pkg/errors"

	"github.com/trialsearch/go-thts/internal/distributions"
	"github.com/trialsearch/go-thts/internal/generics"
	"github.com/trialsearch/go-thts/internal/mo/simplexmap"
	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

const eps = 1e-16

// Variant selects the family member.
type Variant int

// The family members.
const (
	Bts Variant = iota
	Dents
)

// DecayFn mirrors the MENTS temperature decay signature.
type DecayFn func(initTemp, minTemp float64, visits int64, visitsScale float64) float64

// InvSqrtDecay decays a temperature with the inverse square root of the
// scaled visit count.
func InvSqrtDecay(initTemp, minTemp float64, visits int64, visitsScale float64) float64 {
	return math.Max(initTemp*math.Sqrt(visitsScale/(visitsScale+float64(visits))), minTemp)
}

// Options configure the simplex-map family.
type Options struct {
	Variant Variant

	// SearchTemp is the Boltzmann selection temperature, with an optional
	// decay schedule.
	SearchTemp            float64
	SearchTempDecayFn     DecayFn
	SearchTempMinTemp     float64
	SearchTempVisitsScale float64

	// ValTemp mixes per-vertex subtree-entropy estimates into the pseudo-Q
	// (SMDENTS), with its own decay schedule.
	ValTemp            float64
	ValTempDecayFn     DecayFn
	ValTempMinTemp     float64
	ValTempVisitsScale float64

	// Epsilon / MaxExploreProb mix a uniform policy into selection.
	Epsilon        float64
	MaxExploreProb float64

	// DefaultQValue initialises simplex-map vertex values for chance nodes.
	DefaultQValue float64

	// SimplexMap configures the per-node maps.
	SimplexMap simplexmap.Options
}

// DefaultOptions returns the simplex-map family defaults.
func DefaultOptions() Options {
	return Options{
		SearchTemp:     1.0,
		ValTemp:        1.0,
		Epsilon:        1.0,
		MaxExploreProb: 0.5,
		SimplexMap:     simplexmap.DefaultOptions(),
	}
}

// OptionsFromParams parses options out of params.
func OptionsFromParams(params parameters.Params) (Options, error) {
	opts := DefaultOptions()
	var err error
	if opts.SearchTemp, err = parameters.PopParamOr(params, "temp", opts.SearchTemp); err != nil {
		return opts, err
	}
	if opts.SearchTempMinTemp, err = parameters.PopParamOr(params, "temp_decay_min_temp", opts.SearchTempMinTemp); err != nil {
		return opts, err
	}
	if opts.SearchTempVisitsScale, err = parameters.PopParamOr(params, "temp_decay_visits_scale", opts.SearchTempVisitsScale); err != nil {
		return opts, err
	}
	if opts.ValTemp, err = parameters.PopParamOr(params, "value_temp_init", opts.ValTemp); err != nil {
		return opts, err
	}
	if opts.ValTempMinTemp, err = parameters.PopParamOr(params, "value_temp_decay_min_temp", opts.ValTempMinTemp); err != nil {
		return opts, err
	}
	if opts.ValTempVisitsScale, err = parameters.PopParamOr(params, "value_temp_decay_visits_scale", opts.ValTempVisitsScale); err != nil {
		return opts, err
	}
	if opts.Epsilon, err = parameters.PopParamOr(params, "epsilon", opts.Epsilon); err != nil {
		return opts, err
	}
	if opts.MaxExploreProb, err = parameters.PopParamOr(params, "max_explore_prob", opts.MaxExploreProb); err != nil {
		return opts, err
	}
	if opts.DefaultQValue, err = parameters.PopParamOr(params, "default_q_value", opts.DefaultQValue); err != nil {
		return opts, err
	}
	if opts.SimplexMap, err = simplexmap.OptionsFromParams(params); err != nil {
		return opts, err
	}
	return opts, nil
}

// Alg is the simplex-map family algorithm.
type Alg[S, A comparable] struct {
	mgr  *thts.Manager[S, A]
	opts Options
}

var _ thts.Algorithm[int, int] = &Alg[int, int]{}

// New attaches the algorithm to the manager. The environment must be
// multi-objective.
func New[S, A comparable](mgr *thts.Manager[S, A], opts Options) (*Alg[S, A], error) {
	if mgr.RewardDim() < 2 {
		return nil, thts.Configf("simplex-map search needs a multi-objective environment, reward dim is %d", mgr.RewardDim())
	}
	if opts.SearchTemp <= 0 {
		return nil, thts.Configf("search temperature must be positive, got %v", opts.SearchTemp)
	}
	a := &Alg[S, A]{mgr: mgr, opts: opts}
	mgr.Alg = a
	return a, nil
}

// NewFromParams builds the algorithm from a parameter map; variant "smbts"
// (default) or "smdents".
func NewFromParams[S, A comparable](mgr *thts.Manager[S, A], params parameters.Params) (*Alg[S, A], error) {
	opts, err := OptionsFromParams(params)
	if err != nil {
		return nil, errors.Wrap(err, "parsing smt params")
	}
	variantName, err := parameters.PopParamOr(params, "variant", "smbts")
	if err != nil {
		return nil, err
	}
	switch variantName {
	case "smbts":
		opts.Variant = Bts
	case "smdents":
		opts.Variant = Dents
	default:
		return nil, thts.Configf("unknown simplex-map variant %q", variantName)
	}
	return New(mgr, opts)
}

// Name implements thts.Algorithm.
func (a *Alg[S, A]) Name() string {
	if a.opts.Variant == Dents {
		return "smdents"
	}
	return "smbts"
}

// DStats holds the decision node's simplex map and backup count.
type DStats struct {
	NumBackups int64
	Map        *simplexmap.Map
}

// CStats holds the chance node's simplex map and backup count.
type CStats struct {
	NumBackups int64
	Map        *simplexmap.Map
}

func dstats[S, A comparable](d *thts.DNode[S, A]) *DStats {
	return d.Stats.(*DStats)
}

func cstats[S, A comparable](c *thts.CNode[S, A]) *CStats {
	return c.Stats.(*CStats)
}

// NewDStats implements thts.Algorithm: the decision map starts from the
// node's heuristic value vector.
func (a *Alg[S, A]) NewDStats(d *thts.DNode[S, A]) thts.DStats {
	m, err := simplexmap.New(a.mgr.RewardDim(), d.Heuristic(), a.opts.SimplexMap)
	if err != nil {
		// Configuration problems (bad split rule, missing triangulation)
		// surface at New(); by node-creation time the options are known good.
		panic(err)
	}
	return &DStats{Map: m}
}

// NewCStats implements thts.Algorithm: the chance map starts from the
// default Q value.
func (a *Alg[S, A]) NewCStats(c *thts.CNode[S, A]) thts.CStats {
	defaultVal := vecmath.Constant(a.mgr.RewardDim(), a.opts.DefaultQValue)
	m, err := simplexmap.New(a.mgr.RewardDim(), defaultVal, a.opts.SimplexMap)
	if err != nil {
		panic(err)
	}
	return &CStats{Map: m}
}

// VisitD implements thts.Algorithm.
func (a *Alg[S, A]) VisitD(d *thts.DNode[S, A], ctx *thts.TrialContext) {
	if d.IsSink() || d.Depth() >= a.mgr.Opts.MaxDepth {
		dstats[S, A](d).NumBackups++
	}
}

// VisitC implements thts.Algorithm.
func (a *Alg[S, A]) VisitC(c *thts.CNode[S, A], ctx *thts.TrialContext) {}

func (a *Alg[S, A]) searchTemp(visits int64) float64 {
	if a.opts.SearchTempDecayFn == nil {
		return a.opts.SearchTemp
	}
	return a.opts.SearchTempDecayFn(a.opts.SearchTemp, a.opts.SearchTempMinTemp, visits, a.opts.SearchTempVisitsScale)
}

func (a *Alg[S, A]) valTemp(visits int64) float64 {
	if a.opts.ValTempDecayFn == nil {
		return a.opts.ValTemp
	}
	return a.opts.ValTempDecayFn(a.opts.ValTemp, a.opts.ValTempMinTemp, visits, a.opts.ValTempVisitsScale)
}

// childEstimate reads the Q vector and entropy of an action's child at the
// context weight: the value estimate of the closest vertex of the leaf
// simplex containing the weight in the child chance node's map.
func (a *Alg[S, A]) childEstimate(c *thts.CNode[S, A], weight vecmath.Vec) (vecmath.Vec, float64, error) {
	c.Lock()
	m := cstats(c).Map
	c.Unlock()
	leaf, err := m.GetLeafTN(weight)
	if err != nil {
		return nil, 0, err
	}
	value, entropy := m.VertexEstimate(leaf.GetClosestNGV(weight))
	return value, entropy, nil
}

// qValuesAndEntropies reads per-action Q vectors and entropies, with default
// values for unexpanded actions.
func (a *Alg[S, A]) qValuesAndEntropies(
	d *thts.DNode[S, A], ctx *thts.TrialContext,
) (map[A]vecmath.Vec, map[A]float64, error) {
	dim := a.mgr.RewardDim()
	qVals := make(map[A]vecmath.Vec, len(d.Actions()))
	entropies := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		child, ok := d.Child(action)
		if !ok {
			qVals[action] = vecmath.Constant(dim, a.opts.DefaultQValue)
			entropies[action] = 0
			continue
		}
		value, entropy, err := a.childEstimate(child, ctx.Weight)
		if err != nil {
			return nil, nil, err
		}
		qVals[action] = value
		entropies[action] = entropy
	}
	return qVals, entropies, nil
}

// actionDistribution is the MENTS-style Boltzmann policy over contextual
// pseudo-Qs, uniform-mixed with weight lambda.
func (a *Alg[S, A]) actionDistribution(
	d *thts.DNode[S, A], qVals map[A]vecmath.Vec, entropies map[A]float64, ctx *thts.TrialContext,
) map[A]float64 {
	oppCoeff := d.OppCoeff()
	temp := a.searchTemp(d.NumVisits())
	valTemp := 0.0
	if a.opts.Variant == Dents {
		valTemp = a.valTemp(d.NumVisits())
	}

	pseudoQ := func(action A) float64 {
		q := oppCoeff * ctx.Weight.Dot(qVals[action])
		if a.opts.Variant == Dents {
			q += oppCoeff * valTemp * entropies[action]
		}
		return q
	}

	normTerm := math.Inf(-1)
	for _, action := range d.Actions() {
		if qt := pseudoQ(action) / temp; qt > normTerm {
			normTerm = qt
		}
	}

	var sumWeights float64
	weights := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		w := math.Exp(pseudoQ(action)/temp - normTerm)
		weights[action] = w
		sumWeights += w
	}

	lambda := a.opts.Epsilon / math.Log(float64(d.NumVisits())+1)
	if math.IsInf(lambda, 1) || math.IsNaN(lambda) || lambda > a.opts.MaxExploreProb {
		lambda = a.opts.MaxExploreProb
	}
	uniformMass := 1.0 / float64(len(d.Actions()))

	distr := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		p := weights[action]*(1.0-lambda)/sumWeights + lambda*uniformMass
		if p >= eps {
			distr[action] = p
		}
	}
	return distr
}

// SelectAction implements thts.Algorithm.
func (a *Alg[S, A]) SelectAction(d *thts.DNode[S, A], ctx *thts.TrialContext) (A, error) {
	var zero A
	qVals, entropies, err := a.qValuesAndEntropies(d, ctx)
	if err != nil {
		return zero, err
	}
	distr := a.actionDistribution(d, qVals, entropies, ctx)
	action := distributions.SampleFromWeights(distr, ctx.RNG)

	ctx.Slot(d.Depth()).Action = action
	d.CreateChildIfMissing(action, ctx)
	return action, nil
}

// RecommendAction implements thts.Algorithm: the action of highest
// contextual Q under the trial weight.
func (a *Alg[S, A]) RecommendAction(d *thts.DNode[S, A], ctx *thts.TrialContext) (A, error) {
	var zero A
	if d.IsSink() {
		return zero, thts.Environmentf("recommend_action called at a sink state")
	}
	if d.NumChildren() == 0 {
		return d.Actions()[0], nil
	}

	oppCoeff := d.OppCoeff()
	values := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		child, ok := d.Child(action)
		if !ok {
			continue
		}
		value, _, err := a.childEstimate(child, ctx.Weight)
		if err != nil {
			return zero, err
		}
		values[action] = oppCoeff * ctx.Weight.Dot(value)
	}
	return generics.ArgMax(values, func(numTied int) bool {
		return ctx.RNG.Int(0, numTied) == 0
	}), nil
}

// storeEstimate writes (value, entropy) into the map at the context weight:
// onto the closest vertex of the containing leaf simplex, or onto all of its
// vertices when configured, then runs the subdivision policy and message
// passing.
func (a *Alg[S, A]) storeEstimate(m *simplexmap.Map, weight, value vecmath.Vec, entropy float64, ctx *thts.TrialContext) error {
	leaf, err := m.GetLeafTN(weight)
	if err != nil {
		return err
	}

	if m.Opts().BackupAllVertices {
		for _, v := range leaf.Vertices() {
			m.SetVertexEstimate(v, value, entropy)
		}
	} else {
		m.SetVertexEstimate(leaf.GetClosestNGV(weight), value, entropy)
	}

	if err := leaf.MaybeSubdivide(m, ctx.RNG); err != nil {
		return err
	}

	if m.Opts().BackupAllVertices {
		for _, v := range leaf.Vertices() {
			m.MessagePass(v)
		}
	} else {
		m.MessagePass(leaf.GetClosestNGV(weight))
	}
	return nil
}

// BackupD implements thts.Algorithm: pick the action of highest contextual Q,
// store its Q vector (and, for SMDENTS, the local-plus-subtree entropy) at
// the context weight, subdivide if due, and message pass.
func (a *Alg[S, A]) BackupD(d *thts.DNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	st := dstats[S, A](d)
	st.NumBackups++

	qVals, entropies, err := a.qValuesAndEntropies(d, ctx)
	if err != nil {
		return err
	}

	oppCoeff := d.OppCoeff()
	var bestQ vecmath.Vec
	maxCtxQ := math.Inf(-1)
	for _, action := range d.Actions() {
		if ctxQ := ctx.Weight.Dot(qVals[action]); ctxQ > maxCtxQ {
			maxCtxQ = ctxQ
			bestQ = qVals[action]
		}
	}

	entropy := 0.0
	if a.opts.Variant == Dents {
		policy := a.actionDistribution(d, qVals, entropies, ctx)
		var total, localEntropy, subtreeEntropy float64
		for _, p := range policy {
			total += p
		}
		for action, p := range policy {
			p /= total
			if p > 0 {
				localEntropy -= p * math.Log(p)
			}
			subtreeEntropy += p * entropies[action]
		}
		entropy = localEntropy + subtreeEntropy
	}

	return a.storeEstimate(st.Map, ctx.Weight, bestQ.Scaled(oppCoeff), entropy, ctx)
}

// BackupC implements thts.Algorithm: Q = R(s,a) + the backup-weighted average
// of the child decision-node values at the context weight, stored into this
// node's map.
func (a *Alg[S, A]) BackupC(c *thts.CNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	st := cstats(c)
	st.NumBackups++

	dim := a.mgr.RewardDim()
	value := vecmath.Zero(dim)
	entropy := 0.0
	var sumBackups float64

	for _, child := range c.Children() {
		child.Lock()
		ds := child.Stats.(*DStats)
		backups := ds.NumBackups
		childMap := ds.Map
		child.Unlock()
		if backups == 0 {
			continue
		}

		leaf, err := childMap.GetLeafTN(ctx.Weight)
		if err != nil {
			return err
		}
		childValue, childEntropy := childMap.VertexEstimate(leaf.GetClosestNGV(ctx.Weight))

		w := float64(backups)
		sumBackups += w
		scale := w / sumBackups
		value = value.Scaled(1 - scale).Plus(childValue.Scaled(scale))
		entropy = entropy*(1-scale) + childEntropy*scale
	}
	if sumBackups == 0 {
		return nil
	}
	value.Add(c.LocalReward())

	return a.storeEstimate(st.Map, ctx.Weight, value, entropy, ctx)
}

// Package ments implements the maximum-entropy family of search rules:
// MENTS itself (Boltzmann selection over soft values with a log-sum-exp
// backup), plus the DENTS (decayed entropy), RENTS (relative entropy), TENTS
// (sparse Tsallis entropy) and DB-MENTS (soft values alongside a DP backup)
// variants. The variants share one statistic layout and differ in the weight
// computation and backup, selected by a Variant tag.
package ments

import (
	"math"

	"github.com/pkg/errors"

	"github.com/trialsearch/go-thts/internal/distributions"
	"github.com/trialsearch/go-thts/internal/generics"
	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
)

// Numerical guards for the Boltzmann weights.
const (
	eps          = 1e-16
	logMinArg    = 1e-32
	logMaxArg    = 1e32
	minLogWeight = -32.0
	maxLogWeight = 32.0
)

// Variant selects the member of the MENTS family.
type Variant int

// The family members.
const (
	Ments Variant = iota
	Dents
	Rents
	Tents
	DBMents
)

func (v Variant) String() string {
	switch v {
	case Ments:
		return "ments"
	case Dents:
		return "dents"
	case Rents:
		return "rents"
	case Tents:
		return "tents"
	case DBMents:
		return "dbments"
	}
	return "unknown"
}

// Options configure the MENTS family.
type Options struct {
	Variant Variant

	// Search temperature and its optional decay schedule.
	Temp                     float64
	TempDecayFn              DecayFn
	TempDecayMinTemp         float64
	TempDecayVisitsScale     float64
	TempDecayRootVisitsScale float64

	// Uniform-mixing strengths: lambda = min(epsilon/log(n+1), MaxExploreProb).
	Epsilon        float64
	RootEpsilon    float64
	MaxExploreProb float64

	// Prior mixing strength, decaying as 1/log(n+3).
	PriorPolicySearchWeight float64

	// Pseudo-Q for unseen children with no prior.
	DefaultQValue float64

	// Pseudo-Q offset applied to log prior weights; when ShiftPseudoQValues
	// the mean log prior weight is subtracted as well.
	PseudoQValueOffset float64
	ShiftPseudoQValues bool

	// Recommendation controls.
	RecommendVisitThreshold int64
	RecommendMostVisited    bool

	// Alias-table caching of the Boltzmann weights.
	AliasUseCaching           bool
	ReconstructAliasTableFreq int

	// UseMaxHeap enables the O(log n) incremental log-sum-exp backup.
	UseMaxHeap bool

	// DENTS value (entropy) temperature and its decay schedule.
	ValueTempInit             float64
	ValueTempDecayFn          DecayFn
	ValueTempDecayMinTemp     float64
	ValueTempDecayVisitsScale float64

	// DB-MENTS: recommend and back up plain running averages instead of the
	// DP value.
	UseAvgReturn bool
}

// DefaultOptions returns the MENTS option defaults.
func DefaultOptions() Options {
	return Options{
		Temp:                      1.0,
		Epsilon:                   1.0,
		MaxExploreProb:            0.5,
		DefaultQValue:             0.0,
		ReconstructAliasTableFreq: 1,
		ValueTempInit:             1.0,
	}
}

// OptionsFromParams parses MENTS options out of params.
func OptionsFromParams(params parameters.Params) (Options, error) {
	opts := DefaultOptions()
	var err error
	if opts.Temp, err = parameters.PopParamOr(params, "temp", opts.Temp); err != nil {
		return opts, err
	}
	decayName, err := parameters.PopParamOr(params, "temp_decay_fn", "")
	if err != nil {
		return opts, err
	}
	if opts.TempDecayFn, err = DecayFnByName(decayName); err != nil {
		return opts, err
	}
	if opts.TempDecayMinTemp, err = parameters.PopParamOr(params, "temp_decay_min_temp", opts.TempDecayMinTemp); err != nil {
		return opts, err
	}
	if opts.TempDecayVisitsScale, err = parameters.PopParamOr(params, "temp_decay_visits_scale", opts.TempDecayVisitsScale); err != nil {
		return opts, err
	}
	if opts.TempDecayRootVisitsScale, err = parameters.PopParamOr(params, "temp_decay_root_node_visits_scale", opts.TempDecayRootVisitsScale); err != nil {
		return opts, err
	}
	if opts.Epsilon, err = parameters.PopParamOr(params, "epsilon", opts.Epsilon); err != nil {
		return opts, err
	}
	if opts.RootEpsilon, err = parameters.PopParamOr(params, "root_node_epsilon", opts.RootEpsilon); err != nil {
		return opts, err
	}
	if opts.MaxExploreProb, err = parameters.PopParamOr(params, "max_explore_prob", opts.MaxExploreProb); err != nil {
		return opts, err
	}
	if opts.PriorPolicySearchWeight, err = parameters.PopParamOr(params, "prior_policy_search_weight", opts.PriorPolicySearchWeight); err != nil {
		return opts, err
	}
	if opts.DefaultQValue, err = parameters.PopParamOr(params, "default_q_value", opts.DefaultQValue); err != nil {
		return opts, err
	}
	if opts.PseudoQValueOffset, err = parameters.PopParamOr(params, "psuedo_q_value_offset", opts.PseudoQValueOffset); err != nil {
		return opts, err
	}
	if opts.ShiftPseudoQValues, err = parameters.PopParamOr(params, "shift_psuedo_q_values", opts.ShiftPseudoQValues); err != nil {
		return opts, err
	}
	if opts.RecommendVisitThreshold, err = parameters.PopParamOr(params, "recommend_visit_threshold", opts.RecommendVisitThreshold); err != nil {
		return opts, err
	}
	if opts.RecommendMostVisited, err = parameters.PopParamOr(params, "recommend_most_visited", opts.RecommendMostVisited); err != nil {
		return opts, err
	}
	if opts.AliasUseCaching, err = parameters.PopParamOr(params, "alias_use_caching", opts.AliasUseCaching); err != nil {
		return opts, err
	}
	if opts.ReconstructAliasTableFreq, err = parameters.PopParamOr(params, "reconstruct_alias_table_freq", opts.ReconstructAliasTableFreq); err != nil {
		return opts, err
	}
	if opts.UseMaxHeap, err = parameters.PopParamOr(params, "use_max_heap", opts.UseMaxHeap); err != nil {
		return opts, err
	}
	if opts.ValueTempInit, err = parameters.PopParamOr(params, "value_temp_init", opts.ValueTempInit); err != nil {
		return opts, err
	}
	valueDecayName, err := parameters.PopParamOr(params, "value_temp_decay_fn", "")
	if err != nil {
		return opts, err
	}
	if opts.ValueTempDecayFn, err = DecayFnByName(valueDecayName); err != nil {
		return opts, err
	}
	if opts.ValueTempDecayMinTemp, err = parameters.PopParamOr(params, "value_temp_decay_min_temp", opts.ValueTempDecayMinTemp); err != nil {
		return opts, err
	}
	if opts.ValueTempDecayVisitsScale, err = parameters.PopParamOr(params, "value_temp_decay_visits_scale", opts.ValueTempDecayVisitsScale); err != nil {
		return opts, err
	}
	if opts.UseAvgReturn, err = parameters.PopParamOr(params, "use_avg_return", opts.UseAvgReturn); err != nil {
		return opts, err
	}
	return opts, nil
}

// Alg is the MENTS-family algorithm.
type Alg[S, A comparable] struct {
	mgr  *thts.Manager[S, A]
	opts Options
}

var _ thts.Algorithm[int, int] = &Alg[int, int]{}

// New attaches a MENTS-family algorithm to the manager.
func New[S, A comparable](mgr *thts.Manager[S, A], opts Options) (*Alg[S, A], error) {
	if opts.Temp <= 0 {
		return nil, thts.Configf("ments temperature must be positive, got %v", opts.Temp)
	}
	a := &Alg[S, A]{mgr: mgr, opts: opts}
	mgr.Alg = a
	return a, nil
}

// NewFromParams builds the algorithm from a parameter map. The variant is
// taken from the "variant" key, defaulting to plain MENTS.
func NewFromParams[S, A comparable](mgr *thts.Manager[S, A], params parameters.Params) (*Alg[S, A], error) {
	opts, err := OptionsFromParams(params)
	if err != nil {
		return nil, errors.Wrap(err, "parsing ments params")
	}
	variantName, err := parameters.PopParamOr(params, "variant", "ments")
	if err != nil {
		return nil, err
	}
	switch variantName {
	case "ments":
		opts.Variant = Ments
	case "dents":
		opts.Variant = Dents
	case "rents":
		opts.Variant = Rents
	case "tents":
		opts.Variant = Tents
	case "dbments":
		opts.Variant = DBMents
	default:
		return nil, thts.Configf("unknown ments variant %q", variantName)
	}
	return New(mgr, opts)
}

// Name implements thts.Algorithm.
func (a *Alg[S, A]) Name() string { return a.opts.Variant.String() }

// DStats is the statistic block of a MENTS decision node. The entropy and DP
// fields are only maintained by the variants that use them.
type DStats[A comparable] struct {
	NumBackups int64
	SoftValue  float64

	pseudoQOffset float64

	// DENTS policy-entropy block.
	LocalEntropy   float64
	SubtreeEntropy float64
	EntBackups     int64

	// DB-MENTS DP block and avg-return mode.
	DPValue    float64
	DPBackups  int64
	AvgReturn  float64
	AvgBackups int64

	// Incremental log-sum-exp state for the max-heap backup path:
	// sumExpTerms[a] = exp(q(a)/temp - maxQOverTemp), and heap tracks
	// q(a)/temp so the max is an O(1) read.
	heap         *distributions.MaxHeap[A]
	sumExpTerms  map[A]float64
	sumExpTotal  float64
	maxQOverTemp float64

	// Cached Boltzmann weights for alias sampling; marked stale by backups.
	alias      *distributions.Categorical[A]
	aliasStale bool
}

// CStats is the statistic block of a MENTS chance node.
type CStats struct {
	NumBackups int64
	SoftValue  float64

	SubtreeEntropy float64
	EntBackups     int64

	DPValue    float64
	DPBackups  int64
	AvgReturn  float64
	AvgBackups int64
}

func dstats[S, A comparable](d *thts.DNode[S, A]) *DStats[A] {
	return d.Stats.(*DStats[A])
}

func cstats[S, A comparable](c *thts.CNode[S, A]) *CStats {
	return c.Stats.(*CStats)
}

// NewDStats implements thts.Algorithm. A heuristic seeds the soft value; with
// a prior and shift_psuedo_q_values, the mean log prior weight is folded into
// the pseudo-Q offset.
func (a *Alg[S, A]) NewDStats(d *thts.DNode[S, A]) thts.DStats {
	st := &DStats[A]{}
	if a.mgr.Heuristic != nil {
		h := d.Heuristic()[0]
		st.SoftValue = h
		st.DPValue = h
	}
	st.pseudoQOffset = a.opts.PseudoQValueOffset
	if prior := d.Prior(); prior != nil && a.opts.ShiftPseudoQValues {
		meanLogWeight := 0.0
		i := 1.0
		for _, weight := range prior {
			logWeight := clampedLog(weight)
			meanLogWeight *= (i - 1.0) / i
			meanLogWeight += logWeight / i
			i++
		}
		st.pseudoQOffset -= meanLogWeight
	}
	return st
}

// NewCStats implements thts.Algorithm.
func (a *Alg[S, A]) NewCStats(c *thts.CNode[S, A]) thts.CStats {
	return &CStats{SoftValue: a.opts.DefaultQValue}
}

func clampedLog(weight float64) float64 {
	switch {
	case weight >= logMaxArg:
		return maxLogWeight
	case weight > logMinArg:
		return math.Log(weight)
	}
	return minLogWeight
}

// isLeaf reports whether trials terminate at d, so it will only ever be
// visited, never backed up.
func (a *Alg[S, A]) isLeaf(d *thts.DNode[S, A]) bool {
	return d.IsSink() || d.Depth() >= a.mgr.Opts.MaxDepth
}

// VisitD implements thts.Algorithm. Backup counters at leaves advance on
// visit, so the soft backup at chance nodes above can weight them.
func (a *Alg[S, A]) VisitD(d *thts.DNode[S, A], ctx *thts.TrialContext) {
	if a.isLeaf(d) {
		st := dstats[S, A](d)
		st.NumBackups++
		st.EntBackups++
		st.DPBackups++
	}
}

// VisitC implements thts.Algorithm.
func (a *Alg[S, A]) VisitC(c *thts.CNode[S, A], ctx *thts.TrialContext) {}

// getTemp returns the (possibly decayed) search temperature for d.
func (a *Alg[S, A]) getTemp(d *thts.DNode[S, A]) float64 {
	scale := a.opts.TempDecayVisitsScale
	if d.IsRoot() && a.opts.TempDecayRootVisitsScale > 0 {
		scale = a.opts.TempDecayRootVisitsScale
	}
	return decayedTemp(a.opts.TempDecayFn, a.opts.Temp, a.opts.TempDecayMinTemp, d.NumVisits(), scale)
}

// getValueTemp returns the (possibly decayed) DENTS entropy temperature.
func (a *Alg[S, A]) getValueTemp(d *thts.DNode[S, A]) float64 {
	return decayedTemp(a.opts.ValueTempDecayFn, a.opts.ValueTempInit, a.opts.ValueTempDecayMinTemp,
		d.NumVisits(), a.opts.ValueTempDecayVisitsScale)
}

// childValues is a snapshot of one child chance node's statistics, read under
// that child's lock.
type childValues struct {
	exists         bool
	visits         int64
	numBackups     int64
	softValue      float64
	subtreeEntropy float64
	dpValue        float64
	avgReturn      float64
}

func (a *Alg[S, A]) snapshotChildren(d *thts.DNode[S, A]) map[A]childValues {
	snap := make(map[A]childValues, len(d.Actions()))
	for _, action := range d.Actions() {
		c, ok := d.Child(action)
		if !ok {
			snap[action] = childValues{}
			continue
		}
		c.Lock()
		st := cstats(c)
		snap[action] = childValues{
			exists:         true,
			visits:         c.NumVisits(),
			numBackups:     st.NumBackups,
			softValue:      st.SoftValue,
			subtreeEntropy: st.SubtreeEntropy,
			dpValue:        st.DPValue,
			avgReturn:      st.AvgReturn,
		}
		c.Unlock()
	}
	return snap
}

// softQValue is the pseudo-Q of an action: the child soft value if the child
// exists, the clamped log prior weight plus the pseudo-Q offset if a prior is
// configured, and the default Q value otherwise. Negated at opponent nodes.
func (a *Alg[S, A]) softQValue(d *thts.DNode[S, A], action A, cv childValues, oppCoeff float64) float64 {
	if cv.exists {
		return cv.softValue * oppCoeff
	}
	if prior := d.Prior(); prior != nil {
		return clampedLog(prior[action]) + dstats[S, A](d).pseudoQOffset
	}
	return a.opts.DefaultQValue * oppCoeff
}

// computeActionWeights fills the (unnormalised) Boltzmann weights:
// w(a) = exp(pseudoQ(a)/temp - M) with M the max of pseudoQ/temp for
// numerical stabilisation. DENTS folds val_temp-weighted subtree entropy into
// the pseudo-Q; RENTS multiplies in the parent's selection probability; TENTS
// replaces the exponentials with the sparse-softmax weights.
func (a *Alg[S, A]) computeActionWeights(
	d *thts.DNode[S, A], snap map[A]childValues, ctx *thts.TrialContext,
) (weights map[A]float64, sumWeights, normTerm float64) {
	if a.opts.Variant == Tents {
		return a.computeActionWeightsTents(d, snap)
	}

	oppCoeff := d.OppCoeff()
	temp := a.getTemp(d)
	valueTemp := 0.0
	if a.opts.Variant == Dents {
		valueTemp = a.getValueTemp(d)
	}

	pseudoQ := func(action A) float64 {
		q := a.softQValue(d, action, snap[action], oppCoeff)
		if a.opts.Variant == Dents {
			q += oppCoeff * valueTemp * snap[action].subtreeEntropy
		}
		return q
	}

	normTerm = math.Inf(-1)
	for _, action := range d.Actions() {
		if qOverTemp := pseudoQ(action) / temp; qOverTemp > normTerm {
			normTerm = qOverTemp
		}
	}

	var parentDistr map[A]float64
	if a.opts.Variant == Rents && d.Depth() > 0 {
		if distr, ok := ctx.Slot(d.Depth() - 1).Distr.(map[A]float64); ok {
			parentDistr = distr
		}
	}

	weights = make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		w := math.Exp(pseudoQ(action)/temp - normTerm)
		if a.opts.Variant == Rents {
			w *= parentActionProb(parentDistr, action, d.Depth())
		}
		weights[action] = w
		sumWeights += w
	}

	// All weights vanishing reverts to uniform for numerical stability.
	if a.opts.Variant == Rents && sumWeights < eps {
		uniform := 1.0 / float64(len(d.Actions()))
		for _, action := range d.Actions() {
			weights[action] = uniform
		}
		sumWeights = 1.0
	}
	return weights, sumWeights, normTerm
}

// parentActionProb reads the probability the parent assigned to action; 1 at
// the root (no reweighting), 0 for actions the parent did not rate.
func parentActionProb[A comparable](parentDistr map[A]float64, action A, depth int) float64 {
	if depth == 0 || parentDistr == nil {
		return 1.0
	}
	return parentDistr[action]
}

// computeActionDistribution normalises the Boltzmann weights and mixes in the
// uniform policy at weight lambda and the prior at weight lambda_tilde.
// Near-zero components are elided before sampling.
func (a *Alg[S, A]) computeActionDistribution(
	d *thts.DNode[S, A], snap map[A]childValues, ctx *thts.TrialContext,
) map[A]float64 {
	weights, sumWeights, _ := a.computeActionWeights(d, snap, ctx)

	epsilon := a.opts.Epsilon
	if d.IsRoot() && a.opts.RootEpsilon > 0 {
		epsilon = a.opts.RootEpsilon
	}
	lambda := epsilon / math.Log(float64(d.NumVisits())+1)
	if math.IsInf(lambda, 1) || math.IsNaN(lambda) || lambda > a.opts.MaxExploreProb {
		lambda = a.opts.MaxExploreProb
	}

	uniformMass := 1.0 / float64(len(d.Actions()))
	prior := d.Prior()
	distr := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		p := weights[action] * (1.0 - lambda) / sumWeights
		if a.opts.PriorPolicySearchWeight > 0 && prior != nil {
			lambdaTilde := a.opts.PriorPolicySearchWeight / math.Log(float64(d.NumVisits())+3)
			p *= 1.0 - lambdaTilde
			p += (1.0 - lambda) * lambdaTilde * prior[action]
		}
		p += lambda * uniformMass
		if p >= eps {
			distr[action] = p
		}
	}
	return distr
}

// SelectAction implements thts.Algorithm: sample from the mixed Boltzmann
// distribution and create the chosen child if needed. The distribution (and
// the chosen action) are recorded in the context for the backup pass.
func (a *Alg[S, A]) SelectAction(d *thts.DNode[S, A], ctx *thts.TrialContext) (A, error) {
	snap := a.snapshotChildren(d)

	var action A
	if a.opts.AliasUseCaching && a.opts.Variant != Rents {
		action = a.selectActionAlias(d, snap, ctx)
	} else {
		distr := a.computeActionDistribution(d, snap, ctx)
		if a.opts.Variant == Rents {
			normalised := make(map[A]float64, len(distr))
			var sum float64
			for _, p := range distr {
				sum += p
			}
			for act, p := range distr {
				normalised[act] = p / sum
			}
			ctx.Slot(d.Depth()).Distr = normalised
		}
		action = distributions.SampleFromWeights(distr, ctx.RNG)
	}

	ctx.Slot(d.Depth()).Action = action
	d.CreateChildIfMissing(action, ctx)
	return action, nil
}

// selectActionAlias samples through the cached alias table. The mixture with
// the uniform and prior policies is sampled componentwise; the cached
// Boltzmann weights are rebuilt only when a backup has marked them stale,
// which is the staleness the alias-caching option already accepts.
func (a *Alg[S, A]) selectActionAlias(d *thts.DNode[S, A], snap map[A]childValues, ctx *thts.TrialContext) A {
	st := dstats[S, A](d)
	if st.alias == nil || st.aliasStale {
		weights, _, _ := a.computeActionWeights(d, snap, ctx)
		if st.alias == nil {
			st.alias, _ = distributions.NewCategorical(weights, true, a.opts.ReconstructAliasTableFreq)
		} else {
			st.alias.Replace(weights)
		}
		st.aliasStale = false
	}

	epsilon := a.opts.Epsilon
	if d.IsRoot() && a.opts.RootEpsilon > 0 {
		epsilon = a.opts.RootEpsilon
	}
	lambda := epsilon / math.Log(float64(d.NumVisits())+1)
	if math.IsInf(lambda, 1) || math.IsNaN(lambda) || lambda > a.opts.MaxExploreProb {
		lambda = a.opts.MaxExploreProb
	}
	lambdaTilde := 0.0
	prior := d.Prior()
	if a.opts.PriorPolicySearchWeight > 0 && prior != nil {
		lambdaTilde = a.opts.PriorPolicySearchWeight / math.Log(float64(d.NumVisits())+3)
	}

	u := ctx.RNG.Uniform()
	switch {
	case u < lambda:
		return d.Actions()[ctx.RNG.Int(0, len(d.Actions()))]
	case u < lambda+(1.0-lambda)*lambdaTilde:
		return distributions.SampleFromWeights(prior, ctx.RNG)
	}
	return st.alias.Sample(ctx.RNG)
}

// RecommendAction implements thts.Algorithm. DB-MENTS recommends by DP value
// (or running average); everything else by soft value; most-visited when
// configured. Only children visited at least recommend_visit_threshold times
// are considered, unless that set is empty.
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
	tieBreak := func(numTied int) bool { return ctx.RNG.Int(0, numTied) == 0 }

	if a.opts.RecommendMostVisited {
		visits := make(map[A]int64, len(snap))
		for action, cv := range snap {
			if cv.exists {
				visits[action] = cv.visits
			}
		}
		return generics.ArgMax(visits, tieBreak), nil
	}

	oppCoeff := d.OppCoeff()
	value := func(action A, cv childValues) float64 {
		if a.opts.Variant == DBMents {
			if a.opts.UseAvgReturn {
				return oppCoeff * cv.avgReturn
			}
			return oppCoeff * cv.dpValue
		}
		return a.softQValue(d, action, cv, oppCoeff)
	}

	thresholded := make(map[A]float64)
	unthresholded := make(map[A]float64)
	for _, action := range d.Actions() {
		cv := snap[action]
		if cv.exists && cv.visits >= a.opts.RecommendVisitThreshold {
			thresholded[action] = value(action, cv)
		} else {
			unthresholded[action] = value(action, cv)
		}
	}
	if len(thresholded) > 0 {
		return generics.ArgMax(thresholded, tieBreak), nil
	}
	return generics.ArgMax(unthresholded, tieBreak), nil
}

// RootSoftValue is a logger hook reading the root's soft value.
func RootSoftValue[S, A comparable](root *thts.DNode[S, A]) float64 {
	return dstats[S, A](root).SoftValue
}

// SoftValue reads a node's soft value. Caller must hold the node lock.
func SoftValue[S, A comparable](d *thts.DNode[S, A]) float64 {
	return dstats[S, A](d).SoftValue
}

// PolicyAt returns the current normalised selection policy of d. Caller must
// hold the node lock.
func (a *Alg[S, A]) PolicyAt(d *thts.DNode[S, A], ctx *thts.TrialContext) map[A]float64 {
	distr := a.computeActionDistribution(d, a.snapshotChildren(d), ctx)
	var total float64
	for _, p := range distr {
		total += p
	}
	for action, p := range distr {
		distr[action] = p / total
	}
	return distr
}

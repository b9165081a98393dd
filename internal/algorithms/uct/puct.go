package uct

import (
	"github.com/chewxy/math32"

	"github.com/trialsearch/go-thts/internal/generics"
	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
)

// PUCT selection: the exploration term is prior-weighted and scales as
// sqrt(total child weight)/(1 + child weight), with an optional log-growth of
// the exploration coefficient, a first-play-urgency value for unvisited
// children derived from the parent utility, a utility-stdev adjustment of the
// exploration scale, and optional wide root noise. Policy priors and the
// derived per-child scores are float32, like the scorers that produce them.

// PuctOptions configure the PUCT selection path.
type PuctOptions struct {
	// CpuctExploration is the base exploration coefficient; the Log variant
	// grows it as log((totalWeight + base) / base).
	CpuctExploration     float32
	CpuctExplorationBase float32
	CpuctExplorationLog  float32

	// CpuctUtilityStdevPrior/Scale adjust the exploration coefficient by the
	// observed stdev of child utilities relative to the prior stdev.
	CpuctUtilityStdevPrior float32
	CpuctUtilityStdevScale float32

	// FpuReductionMax scales the first-play-urgency reduction: unvisited
	// children start from the parent utility minus
	// FpuReductionMax*sqrt(visited policy mass).
	FpuReductionMax float32

	// WideRootNoise adds |gaussian| noise to root child utilities per draw
	// and smooths the root policy by exponentiation.
	WideRootNoise float32
}

// DefaultPuctOptions returns the PUCT defaults.
func DefaultPuctOptions() PuctOptions {
	return PuctOptions{
		CpuctExploration:       1.1,
		CpuctExplorationBase:   500,
		CpuctExplorationLog:    0.0,
		CpuctUtilityStdevPrior: 0.4,
		CpuctUtilityStdevScale: 0.0,
		FpuReductionMax:        0.2,
	}
}

func puctOptionsFromParams(params parameters.Params, opts PuctOptions) (PuctOptions, error) {
	type entry struct {
		key string
		dst *float32
	}
	for _, e := range []entry{
		{"cpuct_exploration", &opts.CpuctExploration},
		{"cpuct_exploration_base", &opts.CpuctExplorationBase},
		{"cpuct_exploration_log", &opts.CpuctExplorationLog},
		{"cpuct_utility_stdev_prior", &opts.CpuctUtilityStdevPrior},
		{"cpuct_utility_stdev_scale", &opts.CpuctUtilityStdevScale},
		{"fpu_reduction_max", &opts.FpuReductionMax},
		{"wide_root_noise", &opts.WideRootNoise},
	} {
		v, err := parameters.PopParamOr(params, e.key, *e.dst)
		if err != nil {
			return opts, err
		}
		*e.dst = v
	}
	return opts, nil
}

func (o *PuctOptions) cpuct(totalChildWeight float32) float32 {
	c := o.CpuctExploration
	if o.CpuctExplorationLog != 0 {
		c += o.CpuctExplorationLog *
			math32.Log((totalChildWeight+o.CpuctExplorationBase)/o.CpuctExplorationBase)
	}
	return c
}

// selectActionPuct scores every action and picks the max. Requires a prior.
func (a *Alg[S, A]) selectActionPuct(d *thts.DNode[S, A], ctx *thts.TrialContext) A {
	opts := &a.opts.Puct
	prior := d.Prior()
	snap := a.snapshotChildren(d)
	oppCoeff := float32(d.OppCoeff())

	// Totals over visited children: weight, utility mean/variance, and the
	// visited policy mass driving the FPU reduction.
	var totalChildWeight, policyMassVisited float32
	var utilitySum, utilitySqSum float32
	for action, s := range snap {
		if !s.exists || s.visits == 0 {
			continue
		}
		w := float32(s.visits)
		totalChildWeight += w
		policyMassVisited += float32(prior[action])
		u := oppCoeff * float32(s.avgReturn)
		utilitySum += u * w
		utilitySqSum += u * u * w
	}

	// Parent utility and its stdev factor.
	var parentUtility float32
	parentUtilityStdevFactor := float32(1.0)
	if totalChildWeight > 0 {
		parentUtility = utilitySum / totalChildWeight
		if opts.CpuctUtilityStdevScale != 0 {
			variance := utilitySqSum/totalChildWeight - parentUtility*parentUtility
			if variance < 0 {
				variance = 0
			}
			stdev := math32.Sqrt(variance)
			parentUtilityStdevFactor =
				1.0 + opts.CpuctUtilityStdevScale*(stdev/opts.CpuctUtilityStdevPrior-1.0)
		}
	}
	fpuValue := parentUtility - opts.FpuReductionMax*math32.Sqrt(policyMassVisited)

	exploreScale := opts.cpuct(totalChildWeight) * math32.Sqrt(totalChildWeight) * parentUtilityStdevFactor

	values := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		s := snap[action]
		policyProb := float32(prior[action])

		var childUtility float32
		if s.exists && s.visits > 0 {
			childUtility = float32(a.discountVirtualLosses(float64(oppCoeff)*s.avgReturn, s))
		} else {
			childUtility = fpuValue
		}

		if d.IsRoot() && opts.WideRootNoise > 0 {
			policyProb = math32.Pow(policyProb, 1.0/(4.0*opts.WideRootNoise+1.0))
			childUtility += opts.WideRootNoise * math32.Abs(float32(ctx.RNG.Gaussian()))
		}

		value := childUtility + exploreScale*policyProb/(1.0+float32(s.visits))
		values[action] = float64(value)
	}

	action := generics.ArgMax(values, a.randTieBreak(ctx))
	d.CreateChildIfMissing(action, ctx)
	return action
}

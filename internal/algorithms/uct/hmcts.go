package uct

import (
	"math"
	"slices"

	"github.com/trialsearch/go-thts/internal/thts"
)

// HMCTS runs sequential halving at nodes whose total visit budget exceeds the
// threshold, and plain UCT below it. The budget is partitioned into
// ceil(log2 |A|) rounds of per-child visits; at round boundaries the top half
// of actions by empirical value survives. Budget reallocation happens under
// the decision-node lock.

func (a *Alg[S, A]) runningSeqHalving(d *thts.DNode[S, A]) bool {
	return dstats[S, A](d).totalBudget.Load() > a.opts.BudgetThreshold
}

// visitUpdateBudgets refreshes the sequential-halving state of d. Called with
// d's lock held, after the visit counter of this trial has been advanced.
func (a *Alg[S, A]) visitUpdateBudgets(d *thts.DNode[S, A]) {
	st := dstats[S, A](d)

	numActions := len(d.Actions())
	logRounds := math.Ceil(math.Log2(float64(numActions)))

	// A stale budget means our budget was updated; restart the halving
	// rounds from the full action set.
	if budget := st.totalBudget.Load(); budget != st.budgetOnLastVisit {
		st.budgetOnLastVisit = budget
		st.halvingActions = slices.Clone(d.Actions())
		st.roundBudgetPerChild = int64(math.Floor(
			float64(d.NumVisits()+budget) / (float64(numActions) * logRounds)))
		if st.roundBudgetPerChild < 1 {
			st.roundBudgetPerChild = 1
		}
	}

	if d.NumChildren() != numActions {
		return
	}

	// Advance halving rounds while every surviving child has used up its
	// round budget. More than one round can pass at once after a late budget
	// top-up.
	for len(st.halvingActions) > 1 {
		outstanding := false
		for _, action := range st.halvingActions {
			c, _ := d.Child(action)
			if c.NumVisits() < st.roundBudgetPerChild {
				outstanding = true
				break
			}
		}
		if outstanding {
			break
		}

		values := make(map[A]float64, len(st.halvingActions))
		for _, action := range st.halvingActions {
			c, _ := d.Child(action)
			c.Lock()
			values[action] = cstats(c).AvgReturn
			c.Unlock()
		}
		slices.SortFunc(st.halvingActions, func(x, y A) int {
			switch {
			case values[x] > values[y]:
				return -1
			case values[x] < values[y]:
				return 1
			}
			return 0
		})
		keep := int(math.Ceil(float64(len(st.halvingActions)) / 2.0))
		st.halvingActions = st.halvingActions[:keep]

		additional := int64(math.Floor(
			float64(d.NumVisits()+st.totalBudget.Load()) / (float64(keep) * math.Ceil(math.Log2(float64(numActions))))))
		if additional < 1 {
			additional = 1
		}
		st.roundBudgetPerChild += additional
	}

	for _, action := range st.halvingActions {
		if c, ok := d.Child(action); ok {
			cstats(c).totalBudget.Store(st.roundBudgetPerChild)
		}
	}
}

// selectActionSequentialHalving selects uniformly among the surviving actions
// with the most outstanding round budget, pulling uninitialised arms first.
func (a *Alg[S, A]) selectActionSequentialHalving(d *thts.DNode[S, A], ctx *thts.TrialContext) A {
	var untried []A
	for _, action := range d.Actions() {
		if _, ok := d.Child(action); !ok {
			untried = append(untried, action)
		}
	}
	if len(untried) > 0 {
		action := untried[ctx.RNG.Int(0, len(untried))]
		c := d.CreateChildIfMissing(action, ctx)
		cstats(c).totalBudget.Store(dstats[S, A](d).roundBudgetPerChild)
		return action
	}

	st := dstats[S, A](d)
	var best []A
	bestRemaining := int64(math.MinInt64)
	for _, action := range st.halvingActions {
		c, _ := d.Child(action)
		remaining := st.roundBudgetPerChild - c.NumVisits()
		switch {
		case remaining > bestRemaining:
			best = best[:0]
			best = append(best, action)
			bestRemaining = remaining
		case remaining == bestRemaining:
			best = append(best, action)
		}
	}
	return best[ctx.RNG.Int(0, len(best))]
}

package ments

import (
	"math"
	"slices"

	"github.com/trialsearch/go-thts/internal/thts"
)

// TENTS replaces the log-sum-exp with the spmax of the sparse softmax
// (http://proceedings.mlr.press/v139/dam21a/dam21a.pdf). The sparse action
// set is picked by sorting the values of Q(s,a)/temp descending and including
// an action while 1 + (|S|+1)*q > sum_{S} q; the value is
// 1/2 + 1/2*sum_S q^2 - 1/2*(sum_S q - 1)^2/|S|, and the policy weight of
// an action is max(0, q(a) - (sum_S q - 1)/|S|).

// sparseActionSet returns the actions in the sparse set together with the sum
// of their q/temp values, iterating from the highest value down.
func (a *Alg[S, A]) sparseActionSet(d *thts.DNode[S, A], qOverTemp map[A]float64) (set []A, sumSparse float64) {
	actions := slices.Clone(d.Actions())
	slices.SortFunc(actions, func(x, y A) int {
		switch {
		case qOverTemp[x] > qOverTemp[y]:
			return -1
		case qOverTemp[x] < qOverTemp[y]:
			return 1
		}
		return 0
	})

	var runningSum float64
	for i, action := range actions {
		value := qOverTemp[action]
		runningSum += value
		if 1.0+float64(i+1)*value > runningSum {
			set = append(set, action)
			sumSparse += value
		}
	}
	return set, sumSparse
}

func (a *Alg[S, A]) qOverTempMap(d *thts.DNode[S, A], snap map[A]childValues) map[A]float64 {
	oppCoeff := d.OppCoeff()
	temp := a.getTemp(d)
	qOverTemp := make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		qOverTemp[action] = a.softQValue(d, action, snap[action], oppCoeff) / temp
	}
	return qOverTemp
}

// computeActionWeightsTents computes the sparse-softmax policy weights:
// pi(a) = max(0, q(a) - (sum_S q - 1)/|S|). The weights are already linear,
// so the normalisation term is zero.
func (a *Alg[S, A]) computeActionWeightsTents(
	d *thts.DNode[S, A], snap map[A]childValues,
) (weights map[A]float64, sumWeights, normTerm float64) {
	qOverTemp := a.qOverTempMap(d, snap)
	set, sumSparse := a.sparseActionSet(d, qOverTemp)
	commonTerm := (sumSparse - 1.0) / float64(len(set))

	weights = make(map[A]float64, len(d.Actions()))
	for _, action := range d.Actions() {
		w := qOverTemp[action] - commonTerm
		if w < 0 {
			w = 0
		}
		weights[action] = w
		sumWeights += w
	}

	// Degenerate case: all weights clipped to zero. Revert to uniform.
	if sumWeights <= 0 {
		uniform := 1.0 / float64(len(d.Actions()))
		for _, action := range d.Actions() {
			weights[action] = uniform
		}
		sumWeights = 1.0
	}
	return weights, sumWeights, 0
}

// spmax evaluates the sparse softmax value over the current q/temp values.
func (a *Alg[S, A]) spmax(d *thts.DNode[S, A], snap map[A]childValues) float64 {
	qOverTemp := a.qOverTempMap(d, snap)
	set, sumSparse := a.sparseActionSet(d, qOverTemp)

	commonTerm := 0.5 * math.Pow(sumSparse-1.0, 2) / math.Pow(float64(len(set)), 2)
	value := 0.5
	for _, action := range set {
		value += math.Pow(qOverTemp[action], 2)/2.0 - commonTerm
	}
	return value
}

// backupTents performs soft_value = opp_coeff * temp * spmax.
func (a *Alg[S, A]) backupTents(d *thts.DNode[S, A], st *DStats[A], snap map[A]childValues, ctx *thts.TrialContext) {
	st.NumBackups++
	st.SoftValue = d.OppCoeff() * a.getTemp(d) * a.spmax(d, snap)
}

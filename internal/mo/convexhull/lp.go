package convexhull

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/trialsearch/go-thts/internal/thts"
)

// The strong-convex-domination test. A point p is dominated by the set ps iff
// the linear program
//
//	maximise  x
//	s.t.      w . (p - p') - x >= 0   for all p' in ps
//	          sum_i w_i = 1
//	          w in [0,1]^d
//
// has optimum x <= 0: no scalarisation weight makes p strictly better than
// every reference point. The boundary x == 0 counts as dominated, so a point
// on the line between two hull points is pruned.
//
// Infeasibility, and the degenerate base cases where nothing constrains x
// (no reference points, or only p itself), are recoverable "not dominated"
// results. Any other solver failure is a NumericError.

const lpTol = 1e-9

// solveLP wraps the solver behind the one interface the hull code depends
// on: minimise c.x subject to A x = b, x >= 0. Returns the optimum and
// feasibility; any failure other than infeasibility is an error.
func solveLP(c []float64, a mat.Matrix, b []float64) (optF float64, feasible bool, err error) {
	optF, _, lpErr := lp.Simplex(c, a, b, lpTol, nil)
	switch lpErr {
	case nil:
		return optF, true, nil
	case lp.ErrInfeasible:
		return 0, false, nil
	}
	return 0, false, thts.Numericf("lp solver failed in hull pruning: %v", lpErr)
}

// stronglyConvexDominated runs the test for one point against the reference
// set (which may contain the point itself; it is skipped).
func stronglyConvexDominated[T comparable](refPoints map[string]Point[T], point Point[T]) (bool, error) {
	key := point.P.Key()
	numRefs := 0
	for refKey := range refPoints {
		if refKey != key {
			numRefs++
		}
	}
	// With no reference point to dominate it, nothing constrains x.
	if numRefs == 0 {
		return false, nil
	}

	dim := len(point.P)

	// Standard form: variables are [w_1..w_d, xPlus, xMinus, s_1..s_n], all
	// non-negative, with x = xPlus - xMinus free via the split and one slack
	// per inequality constraint.
	numVars := dim + 2 + numRefs
	numRows := numRefs + 1

	a := mat.NewDense(numRows, numVars, nil)
	b := make([]float64, numRows)

	row := 0
	for refKey, ref := range refPoints {
		if refKey == key {
			continue
		}
		for j := 0; j < dim; j++ {
			a.Set(row, j, point.P[j]-ref.P[j])
		}
		a.Set(row, dim, -1)       // -xPlus
		a.Set(row, dim+1, +1)     // +xMinus
		a.Set(row, dim+2+row, -1) // -slack: w.(p-p') - x - s = 0
		b[row] = 0
		row++
	}
	for j := 0; j < dim; j++ {
		a.Set(numRows-1, j, 1)
	}
	b[numRows-1] = 1

	// Maximise x == minimise -xPlus + xMinus.
	c := make([]float64, numVars)
	c[dim] = -1
	c[dim+1] = +1

	optF, feasible, err := solveLP(c, a, b)
	if err != nil {
		return false, err
	}
	if !feasible {
		return false, nil
	}
	// optF = -max x, so dominated iff max x <= 0 iff optF >= 0.
	return optF >= -lpTol, nil
}

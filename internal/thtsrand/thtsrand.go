// Package thtsrand provides the per-worker random number manager used
// throughout the search core.
//
// Every worker owns one Manager, seeded from a base seed and the worker id, so
// concurrent trials never contend on a shared source and runs are reproducible
// given a seed.
package thtsrand

import (
	"math/rand"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/trialsearch/go-thts/internal/vecmath"
)

// Manager is a seeded random source for one worker. It is not safe for
// concurrent use; each worker must own its own Manager.
type Manager struct {
	rng *rand.Rand

	// Dirichlet samplers per dimension, created lazily. Dirichlet(1,...,1) is
	// the uniform distribution over the unit simplex.
	dirichlet map[int]*distmv.Dirichlet
	expSrc    exprand.Source
}

// New returns a Manager seeded deterministically from baseSeed and workerID.
func New(baseSeed int64, workerID int) *Manager {
	// Spread worker ids across the seed space with a golden-ratio stride.
	seed := int64(uint64(baseSeed) + uint64(workerID)*0x9e3779b97f4a7c15)
	return &Manager{
		rng:       rand.New(rand.NewSource(seed)),
		dirichlet: make(map[int]*distmv.Dirichlet),
		expSrc:    exprand.NewSource(uint64(seed) ^ 0xa5a5a5a5a5a5a5a5),
	}
}

// Int returns a uniform integer in the half-open interval [lo, hi).
func (m *Manager) Int(lo, hi int) int {
	return lo + m.rng.Intn(hi-lo)
}

// Uniform returns a uniform float64 in [0, 1).
func (m *Manager) Uniform() float64 {
	return m.rng.Float64()
}

// Exp returns a draw from the Exp(1) distribution.
func (m *Manager) Exp() float64 {
	return m.rng.ExpFloat64()
}

// Bool returns true with probability p.
func (m *Manager) Bool(p float64) bool {
	return m.rng.Float64() < p
}

// Gaussian returns a draw from the standard normal distribution.
func (m *Manager) Gaussian() float64 {
	return m.rng.NormFloat64()
}

// SimplexWeight samples a uniform random point on the unit (dim-1)-simplex.
// Used to draw per-trial context weights in multi-objective search.
func (m *Manager) SimplexWeight(dim int) vecmath.Vec {
	d, ok := m.dirichlet[dim]
	if !ok {
		alpha := make([]float64, dim)
		for i := range alpha {
			alpha[i] = 1.0
		}
		d = distmv.NewDirichlet(alpha, m.expSrc)
		m.dirichlet[dim] = d
	}
	return d.Rand(nil)
}

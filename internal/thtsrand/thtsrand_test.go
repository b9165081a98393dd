package thtsrand

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministicPerSeedAndWorker(t *testing.T) {
	a := New(42, 3)
	b := New(42, 3)
	c := New(42, 4)

	same, different := true, false
	for i := 0; i < 100; i++ {
		x, y, z := a.Uniform(), b.Uniform(), c.Uniform()
		same = same && x == y
		different = different || x != z
	}
	require.True(t, same, "same seed and worker must reproduce")
	require.True(t, different, "different workers must diverge")
}

func TestIntHalfOpen(t *testing.T) {
	rng := New(1, 0)
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		v := rng.Int(2, 5)
		require.GreaterOrEqual(t, v, 2)
		require.Less(t, v, 5)
		seen[v] = true
	}
	require.Len(t, seen, 3)
}

func TestBool(t *testing.T) {
	rng := New(2, 0)
	count := 0
	for i := 0; i < 10000; i++ {
		if rng.Bool(0.25) {
			count++
		}
	}
	require.InDelta(t, 2500, count, 300)
}

func TestExpAndGaussianMoments(t *testing.T) {
	rng := New(3, 0)
	var sumExp, sumG, sumG2 float64
	const n = 50000
	for i := 0; i < n; i++ {
		sumExp += rng.Exp()
		g := rng.Gaussian()
		sumG += g
		sumG2 += g * g
	}
	require.InDelta(t, 1.0, sumExp/n, 0.05)
	require.InDelta(t, 0.0, sumG/n, 0.05)
	require.InDelta(t, 1.0, sumG2/n, 0.1)
}

func TestSimplexWeight(t *testing.T) {
	rng := New(4, 0)
	sums := make([]float64, 3)
	for i := 0; i < 5000; i++ {
		w := rng.SimplexWeight(3)
		require.Len(t, []float64(w), 3)
		var total float64
		for j, x := range w {
			require.GreaterOrEqual(t, x, 0.0)
			total += x
			sums[j] += x
		}
		require.InDelta(t, 1.0, total, 1e-9)
	}
	// Uniform over the simplex: each coordinate has mean 1/3.
	for _, s := range sums {
		require.InDelta(t, 1.0/3.0, s/5000, 0.02)
	}
	require.False(t, math.IsNaN(sums[0]))
}

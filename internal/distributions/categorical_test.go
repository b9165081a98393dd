package distributions

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trialsearch/go-thts/internal/thtsrand"
)

func countSamples[T comparable](t *testing.T, d Distribution[T], rng *thtsrand.Manager, n int) map[T]int {
	t.Helper()
	counts := make(map[T]int)
	for i := 0; i < n; i++ {
		counts[d.Sample(rng)]++
	}
	return counts
}

func TestCategoricalSampling(t *testing.T) {
	for _, useAlias := range []bool{false, true} {
		rng := thtsrand.New(42, 0)
		c, err := NewCategorical(map[string]float64{"A": 0.3, "B": 0.7}, useAlias, 1)
		require.NoError(t, err)

		counts := countSamples[string](t, c, rng, 10000)
		require.GreaterOrEqual(t, counts["A"], 2750, "useAlias=%v", useAlias)
		require.LessOrEqual(t, counts["A"], 3250, "useAlias=%v", useAlias)
	}
}

func TestCategoricalUpdateReconstructFreq(t *testing.T) {
	rng := thtsrand.New(7, 0)
	c, err := NewCategorical(map[string]float64{"A": 0.3, "B": 0.7}, true, 2)
	require.NoError(t, err)

	// First update: table not yet rebuilt, distribution still the old one.
	c.Update("A", 20)
	counts := countSamples[string](t, c, rng, 10000)
	require.GreaterOrEqual(t, counts["A"], 2750)
	require.LessOrEqual(t, counts["A"], 3250)

	// Second update hits the rebuild cadence.
	c.Update("B", 80)
	counts = countSamples[string](t, c, rng, 10000)
	require.GreaterOrEqual(t, counts["A"], 1750)
	require.LessOrEqual(t, counts["A"], 2250)
}

func TestCategoricalUpdateMatchesFreshConstruction(t *testing.T) {
	weights := map[string]float64{"x": 1, "y": 2, "z": 3}
	c, err := NewCategorical(map[string]float64{"x": 1, "y": 1, "z": 1}, true, 1)
	require.NoError(t, err)
	for k, w := range weights {
		c.Update(k, w)
	}

	fresh, err := NewCategorical(weights, true, 1)
	require.NoError(t, err)

	rngA := thtsrand.New(11, 0)
	rngB := thtsrand.New(11, 0)
	countsA := countSamples[string](t, c, rngA, 20000)
	countsB := countSamples[string](t, fresh, rngB, 20000)
	for k := range weights {
		require.InDelta(t, countsB[k], countsA[k], 700, "outcome %q", k)
	}
}

func TestCategoricalAliasThresholdsInUnitInterval(t *testing.T) {
	c, err := NewCategorical(map[int]float64{0: 0.01, 1: 5, 2: 0.5, 3: 2, 4: 0.1}, true, 1)
	require.NoError(t, err)
	for _, entry := range c.alias {
		require.GreaterOrEqual(t, entry.threshold, 0.0)
		require.LessOrEqual(t, entry.threshold, 1.0)
	}
}

func TestCategoricalErrors(t *testing.T) {
	_, err := NewCategorical(map[string]float64{}, false, 1)
	require.Error(t, err)
	_, err = NewCategorical(map[string]float64{"a": -1}, false, 1)
	require.Error(t, err)
	_, err = NewCategorical(map[string]float64{"a": 0}, false, 1)
	require.Error(t, err)
}

func TestDiscreteUniform(t *testing.T) {
	rng := thtsrand.New(3, 0)
	d := NewDiscreteUniform([]string{"a", "b", "c", "d"})
	counts := countSamples[string](t, d, rng, 8000)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.InDelta(t, 2000, counts[k], 250, "outcome %q", k)
	}
}

func TestMixedDistribution(t *testing.T) {
	rng := thtsrand.New(5, 0)
	left := NewDiscreteUniform([]string{"a"})
	right := NewDiscreteUniform([]string{"b"})
	m, err := NewMixed([]Distribution[string]{left, right}, []float64{1, 3})
	require.NoError(t, err)

	counts := countSamples[string](t, m, rng, 8000)
	require.InDelta(t, 2000, counts["a"], 300)
	require.InDelta(t, 6000, counts["b"], 300)

	_, err = NewMixed([]Distribution[string]{left}, []float64{1, 2})
	require.Error(t, err)
}

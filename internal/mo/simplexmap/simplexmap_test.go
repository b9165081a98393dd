package simplexmap

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

func newTestMap(t *testing.T, dim int, rule SplitRule) *Map {
	t.Helper()
	opts := DefaultOptions()
	opts.SplitRule = rule
	m, err := New(dim, vecmath.Zero(dim), opts)
	require.NoError(t, err)
	return m
}

// subdivideRandomLeaves forces n subdivisions at the leaves containing random
// simplex weights.
func subdivideRandomLeaves(t *testing.T, m *Map, rng *thtsrand.Manager, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		w := rng.SimplexWeight(m.Dim())
		leaf, err := m.GetLeafTN(w)
		require.NoError(t, err)
		require.NoError(t, leaf.createChildren(m, rng))
	}
}

func TestGetLeafFindsGloballyClosestVertex(t *testing.T) {
	m := newTestMap(t, 3, SplitOrdered)
	rng := thtsrand.New(60415, 0)
	subdivideRandomLeaves(t, m, rng, 100)

	for i := 0; i < 1000; i++ {
		w := rng.SimplexWeight(3)
		leaf, err := m.GetLeafTN(w)
		require.NoError(t, err)
		closest := leaf.GetClosestNGV(w)

		globalBest := math.MaxFloat64
		for _, v := range m.Vertices() {
			if d := v.Weight.Dist(w); d < globalBest {
				globalBest = d
			}
		}
		require.InDelta(t, globalBest, closest.Weight.Dist(w), 1e-9,
			"weight %v: leaf closest vertex is not globally closest", w)
	}
}

func TestLeavesTileTheSimplex(t *testing.T) {
	for _, rule := range []SplitRule{SplitOrdered, SplitRandom, SplitSmallestEdgeRandomly} {
		m := newTestMap(t, 3, rule)
		rng := thtsrand.New(7, int(rule))
		subdivideRandomLeaves(t, m, rng, 40)

		// Every simplex weight resolves to exactly one leaf, and that leaf
		// contains it.
		for i := 0; i < 500; i++ {
			w := rng.SimplexWeight(3)
			leaf, err := m.GetLeafTN(w)
			require.NoError(t, err)
			ok, err := leaf.ContainsWeight(w)
			require.NoError(t, err)
			require.True(t, ok, "rule %v: leaf does not contain weight %v", rule, w)
		}
	}
}

func TestTwoDimensionalDescentUsesCoordinates(t *testing.T) {
	m := newTestMap(t, 2, SplitOrdered)
	rng := thtsrand.New(3, 0)
	subdivideRandomLeaves(t, m, rng, 10)

	for i := 0; i < 200; i++ {
		w := rng.SimplexWeight(2)
		leaf, err := m.GetLeafTN(w)
		require.NoError(t, err)
		lo, hi := leaf.Vertices()[0].Weight[0], leaf.Vertices()[1].Weight[0]
		if lo > hi {
			lo, hi = hi, lo
		}
		require.LessOrEqual(t, lo, w[0])
		require.GreaterOrEqual(t, hi, w[0])
	}
}

func TestVerticesDeduplicated(t *testing.T) {
	m := newTestMap(t, 3, SplitOrdered)
	rng := thtsrand.New(11, 0)
	subdivideRandomLeaves(t, m, rng, 30)

	seen := map[string]bool{}
	for _, v := range m.Vertices() {
		key := v.Weight.Key()
		require.False(t, seen[key], "duplicate vertex at %v", v.Weight)
		seen[key] = true
	}
}

func TestMessagePassingPropagatesBetterEstimates(t *testing.T) {
	m := newTestMap(t, 2, SplitOrdered)
	rng := thtsrand.New(13, 0)
	root := m.Root()
	require.NoError(t, root.createChildren(m, rng))

	// Put a strong estimate on the midpoint and push it out.
	mid, err := m.GetLeafTN(vecmath.Vec{0.5, 0.5})
	require.NoError(t, err)
	v := mid.GetClosestNGV(vecmath.Vec{0.5, 0.5})
	m.SetVertexEstimate(v, vecmath.Vec{5, 5}, 0.25)
	m.MessagePass(v)

	for _, u := range m.Vertices() {
		value, entropy := m.VertexEstimate(u)
		if u == v {
			continue
		}
		// (5,5) beats the zero default under any weight, so every neighbour
		// adopted it.
		if v.Neighbours().Has(u) {
			require.True(t, value.Equal(vecmath.Vec{5, 5}), "neighbour at %v kept %v", u.Weight, value)
			require.Equal(t, 0.25, entropy)
		}
	}
}

func TestMaybeSubdivideHonoursThresholds(t *testing.T) {
	opts := DefaultOptions()
	opts.SplitRule = SplitOrdered
	opts.SplitVisitThresh = 3
	m, err := New(2, vecmath.Zero(2), opts)
	require.NoError(t, err)
	rng := thtsrand.New(17, 0)
	root := m.Root()

	// Uniform values: the counter stays at zero, no split.
	for i := 0; i < 10; i++ {
		require.NoError(t, root.MaybeSubdivide(m, rng))
	}
	require.False(t, root.HasChildren())

	// Disagreeing values: splits after the threshold is reached.
	m.SetVertexEstimate(root.Vertices()[0], vecmath.Vec{1, 0}, 0)
	for i := 0; i < opts.SplitVisitThresh; i++ {
		require.False(t, root.HasChildren())
		require.NoError(t, root.MaybeSubdivide(m, rng))
	}
	require.True(t, root.HasChildren())
}

func writeTriangulationFile(t *testing.T, dir string) string {
	t.Helper()
	// d=3: 3 identity vertices, e=3 edge points, 4 sub-simplices -- the
	// standard midpoint refinement of a triangle.
	content := "6\n" +
		"4\n" +
		"0\n1\n2\n" +
		"e0 0 1 0.5\n" +
		"e1 0 2 0.5\n" +
		"e2 1 2 0.5\n" +
		"0 3 4\n" +
		"1 3 5\n" +
		"2 4 5\n" +
		"3 4 5\n"
	path := filepath.Join(dir, "3_triangulation.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTriangulationLoader(t *testing.T) {
	dir := t.TempDir()
	writeTriangulationFile(t, dir)

	tri, err := LoadTriangulation(dir, 3)
	require.NoError(t, err)
	require.Equal(t, 3, tri.Dim)
	require.Len(t, tri.EdgePoints, 3)
	require.Len(t, tri.Simplices, 4)
	require.Equal(t, EdgePoint{Index0: 0, Index1: 1, Ratio: 0.5}, tri.EdgePoints[0])
	require.Equal(t, []int{3, 4, 5}, tri.Simplices[3])

	// Missing dimension surfaces as a configuration error.
	_, err = LoadTriangulation(dir, 4)
	require.Error(t, err)
}

func TestTriangulationRefinementIsStable(t *testing.T) {
	dir := t.TempDir()
	writeTriangulationFile(t, dir)

	build := func() *Map {
		opts := DefaultOptions()
		opts.SplitRule = SplitTriangulation
		opts.TriangulationDir = dir
		m, err := New(3, vecmath.Zero(3), opts)
		require.NoError(t, err)
		rng := thtsrand.New(1, 0)
		require.NoError(t, m.Root().createChildren(m, rng))
		return m
	}

	m1 := build()
	m2 := build()
	require.Equal(t, m1.NumVertices(), m2.NumVertices())

	// Same vertex weights in both maps, and the same leaf count.
	weights1 := map[string]bool{}
	for _, v := range m1.Vertices() {
		weights1[v.Weight.Key()] = true
	}
	for _, v := range m2.Vertices() {
		require.True(t, weights1[v.Weight.Key()])
	}

	rng := thtsrand.New(23, 0)
	for i := 0; i < 200; i++ {
		w := rng.SimplexWeight(3)
		leaf1, err := m1.GetLeafTN(w)
		require.NoError(t, err)
		leaf2, err := m2.GetLeafTN(w)
		require.NoError(t, err)
		require.Equal(t, leaf1.GetClosestNGV(w).Weight, leaf2.GetClosestNGV(w).Weight)
	}
}

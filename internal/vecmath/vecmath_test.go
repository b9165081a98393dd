package vecmath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArithmetic(t *testing.T) {
	v := Vec{1, 2, 3}
	u := Vec{3, 2, 1}

	require.InDelta(t, 10.0, v.Dot(u), 1e-12)
	require.True(t, v.Plus(u).Equal(Vec{4, 4, 4}))
	require.True(t, v.Sub(u).Equal(Vec{-2, 0, 2}))
	require.True(t, v.Scaled(2).Equal(Vec{2, 4, 6}))
	require.InDelta(t, 6.0, v.Sum(), 1e-12)

	w := v.Clone()
	w.Add(u)
	require.True(t, w.Equal(Vec{4, 4, 4}))
	require.True(t, v.Equal(Vec{1, 2, 3}), "Clone must not alias")
}

func TestDistances(t *testing.T) {
	require.InDelta(t, 5.0, (Vec{0, 0}).Dist(Vec{3, 4}), 1e-12)
	require.InDelta(t, 4.0, (Vec{0, 0}).LInfDist(Vec{3, 4}), 1e-12)
}

func TestConstructors(t *testing.T) {
	require.True(t, Zero(3).Equal(Vec{0, 0, 0}))
	require.True(t, Scalar(-2).Equal(Vec{-2}))
	require.True(t, Constant(2, 0.5).Equal(Vec{0.5, 0.5}))
	require.True(t, Basis(3, 1).Equal(Vec{0, 1, 0}))
}

func TestKeyCanonical(t *testing.T) {
	require.Equal(t, (Vec{0.5, 0.25}).Key(), (Vec{0.5, 0.25}).Key())
	require.NotEqual(t, (Vec{0.5, 0.25}).Key(), (Vec{0.25, 0.5}).Key())
	require.NotEqual(t, (Vec{1}).Key(), (Vec{1, 0}).Key())
}

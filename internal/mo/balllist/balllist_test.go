package balllist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

func TestInitialBallCoversSimplex(t *testing.T) {
	l := NewList(3, 4)
	rng := thtsrand.New(1, 0)
	for i := 0; i < 500; i++ {
		w := rng.SimplexWeight(3)
		relevant, err := l.RelevantBalls(w)
		require.NoError(t, err)
		require.Len(t, relevant, 1)
		require.Same(t, l.InitBall(), relevant[0])
	}
}

func TestBallUpdateRunningAverage(t *testing.T) {
	b := NewBall(1.0, vecmath.Vec{0.5, 0.5})
	b.UpdateAvgReturn(vecmath.Vec{2, 0})
	b.UpdateAvgReturn(vecmath.Vec{0, 2})
	require.Equal(t, 2, b.NumBackups())
	require.True(t, b.AvgReturn().Equal(vecmath.Vec{1, 1}))
	require.InDelta(t, 1.0, b.ScalarisedValue(vecmath.Vec{0.5, 0.5}), 1e-12)
}

func TestConfidenceRadiusShrinksWithBackups(t *testing.T) {
	b := NewBall(1.0, vecmath.Vec{0.5, 0.5})
	before := b.ConfidenceRadius(10)
	b.UpdateAvgReturn(vecmath.Vec{0, 0})
	b.UpdateAvgReturn(vecmath.Vec{0, 0})
	after := b.ConfidenceRadius(10)
	require.Less(t, after, before)
}

func TestSplitActivatesHalfRadiusBall(t *testing.T) {
	l := NewList(2, 2)
	init := l.InitBall()
	w := vecmath.Vec{0.8, 0.2}

	// Backups accumulate until the split gate opens: enough backups on the
	// ball, and the confidence radius inside the ball radius.
	for i := 0; i < 200; i++ {
		relevant, err := l.RelevantBalls(w)
		require.NoError(t, err)
		l.AvgReturnUpdate(vecmath.Vec{1, 0}, w, relevant[0])
	}

	smaller := l.BallsWithMinRadius(0)
	require.Greater(t, len(smaller), 1, "expected at least one split ball")

	// The most refined cover of w now excludes the initial ball.
	relevant, err := l.RelevantBalls(w)
	require.NoError(t, err)
	for _, ball := range relevant {
		require.Less(t, ball.Radius(), init.Radius())
		require.True(t, ball.Contains(w))
	}
}

func TestEveryWeightAlwaysCovered(t *testing.T) {
	l := NewList(2, 1)
	rng := thtsrand.New(9, 0)
	for i := 0; i < 2000; i++ {
		w := rng.SimplexWeight(2)
		relevant, err := l.RelevantBalls(w)
		require.NoError(t, err)
		require.NotEmpty(t, relevant)
		l.AvgReturnUpdate(vecmath.Vec{float64(i % 3), 1}, w, relevant[0])
	}
	require.Equal(t, 2000, l.TotalBackups())
}

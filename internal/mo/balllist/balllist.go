// Package balllist implements the CZT ball list: a collection of closed balls
// over the unit weight simplex with dyadic radii (r, r/2, r/4, ...). Every
// weight on the simplex is covered by at least one ball; the relevant balls
// for a weight are the smallest-radius balls containing it. Each ball carries
// a running average return and a backup count.
package balllist

import (
	"math"
	"sync"

	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

const eps = 1e-12

// Ball is a closed ball on the weight simplex with a running average return.
type Ball struct {
	radius float64
	center vecmath.Vec

	mu         sync.Mutex
	numBackups int
	avgReturn  vecmath.Vec
}

// NewBall builds a ball at the given center.
func NewBall(radius float64, center vecmath.Vec) *Ball {
	return &Ball{
		radius:    radius,
		center:    center.Clone(),
		avgReturn: vecmath.Zero(len(center)),
	}
}

// Radius returns the ball radius.
func (b *Ball) Radius() float64 { return b.radius }

// Center returns the ball center.
func (b *Ball) Center() vecmath.Vec { return b.center }

// Contains reports whether point lies in the ball's domain.
func (b *Ball) Contains(point vecmath.Vec) bool {
	return b.center.Dist(point) <= b.radius
}

// UpdateAvgReturn folds a trial return into the running average.
func (b *Ball) UpdateAvgReturn(trialReturn vecmath.Vec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.numBackups++
	delta := trialReturn.Sub(b.avgReturn).Scaled(1.0 / float64(b.numBackups))
	b.avgReturn.Add(delta)
}

// SetValue overwrites the ball value (used by value-iteration style updates).
func (b *Ball) SetValue(value vecmath.Vec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.numBackups++
	b.avgReturn = value.Clone()
}

// AvgReturn returns a copy of the running average return.
func (b *Ball) AvgReturn() vecmath.Vec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.avgReturn.Clone()
}

// ScalarisedValue returns weight . avg_return.
func (b *Ball) ScalarisedValue(weight vecmath.Vec) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.avgReturn.Dot(weight)
}

// ConfidenceRadius is log(total_backups + e) / (1 + backups): wide while the
// ball is fresh, shrinking as its own backups accumulate.
func (b *Ball) ConfidenceRadius(totalBackups int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return math.Log(float64(totalBackups)+math.E) / (1.0 + float64(b.numBackups))
}

// NumBackups returns the ball's backup count.
func (b *Ball) NumBackups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numBackups
}

// List is the per-chance-node ball list, grouped by radius. The initial list
// holds a single centroid ball whose radius covers the whole simplex.
type List struct {
	mu             sync.Mutex
	numBackups     int
	splitThreshold int
	largestRadius  float64
	smallestRadius float64
	byRadius       map[float64][]*Ball
	initBall       *Ball
}

// NewList builds a ball list over the (dim-1)-simplex. splitThreshold is the
// number of backups a ball needs before it may spawn a child ball.
func NewList(dim int, splitThreshold int) *List {
	centroid := vecmath.Constant(dim, 1.0/float64(dim))
	corner := vecmath.Basis(dim, 0)
	initRadius := centroid.Dist(corner) + eps

	init := NewBall(initRadius, centroid)
	return &List{
		splitThreshold: splitThreshold,
		largestRadius:  initRadius,
		smallestRadius: initRadius,
		byRadius:       map[float64][]*Ball{initRadius: {init}},
		initBall:       init,
	}
}

// InitBall returns the initial covering ball.
func (l *List) InitBall() *Ball { return l.initBall }

// TotalBackups returns the number of backups across all balls.
func (l *List) TotalBackups() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.numBackups
}

// RelevantBalls returns the most refined balls whose domains contain weight.
// The domain of larger balls is superseded by smaller balls, so the search
// runs from the smallest radius up and stops at the first non-empty level;
// all returned balls share one radius.
func (l *List) RelevantBalls(weight vecmath.Vec) ([]*Ball, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for radius := l.smallestRadius; radius <= l.largestRadius; radius *= 2.0 {
		var relevant []*Ball
		for _, ball := range l.byRadius[radius] {
			if ball.Contains(weight) {
				relevant = append(relevant, ball)
			}
		}
		if len(relevant) > 0 {
			return relevant, nil
		}
	}
	return nil, thts.Invariantf("ball list has no relevant balls for weight %v", weight)
}

// BallsWithMinRadius returns all balls with radius at least minRadius.
func (l *List) BallsWithMinRadius(minRadius float64) []*Ball {
	l.mu.Lock()
	defer l.mu.Unlock()

	if minRadius < l.smallestRadius {
		minRadius = l.smallestRadius
	}
	var out []*Ball
	for radius := minRadius; radius <= l.largestRadius; radius *= 2.0 {
		out = append(out, l.byRadius[radius]...)
	}
	return out
}

// activateNewBallIfNeeded splits the chosen ball: once it has enough backups
// and its confidence radius has shrunk inside its own radius, a child ball of
// half the radius is activated at the current weight. Returns the ball the
// update should go to.
func (l *List) activateNewBallIfNeeded(weight vecmath.Vec, chosen *Ball) *Ball {
	l.mu.Lock()
	total := l.numBackups
	l.mu.Unlock()

	if chosen.NumBackups() < l.splitThreshold || chosen.ConfidenceRadius(total) > chosen.radius {
		return chosen
	}

	newBall := NewBall(chosen.radius/2.0, weight)
	l.mu.Lock()
	l.byRadius[newBall.radius] = append(l.byRadius[newBall.radius], newBall)
	if newBall.radius < l.smallestRadius {
		l.smallestRadius = newBall.radius
	}
	l.mu.Unlock()
	return newBall
}

// AvgReturnUpdate folds the trial return suffix into the chosen ball,
// activating a child ball first when the split gate opens.
func (l *List) AvgReturnUpdate(trialReturn, weight vecmath.Vec, chosen *Ball) {
	l.mu.Lock()
	l.numBackups++
	l.mu.Unlock()
	target := l.activateNewBallIfNeeded(weight, chosen)
	target.UpdateAvgReturn(trialReturn)
}

// SetValueUpdate overwrites the chosen ball's value, activating a child ball
// first when the split gate opens.
func (l *List) SetValueUpdate(value, weight vecmath.Vec, chosen *Ball) {
	l.mu.Lock()
	l.numBackups++
	l.mu.Unlock()
	target := l.activateNewBallIfNeeded(weight, chosen)
	target.SetValue(value)
}

// Package convexhull implements the tagged convex hull used by CHMCTS: the
// finite set of tagged value vectors achieving optimality under some linear
// scalarisation. Hulls combine by union and Minkowski addition over point
// sets, followed by pruning with a strong-convex-domination test solved as a
// linear program.
package convexhull

import (
	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// Point is a value vector carrying a tag (typically the action achieving it).
type Point[T comparable] struct {
	P   vecmath.Vec
	Tag T
}

// Hull is a set of non-dominated tagged points. Points are identified by
// their coordinates; inserting two tags at the same coordinates keeps the
// first.
type Hull[T comparable] struct {
	points map[string]Point[T]
}

// Empty returns the hull with no points.
func Empty[T comparable]() Hull[T] {
	return Hull[T]{points: map[string]Point[T]{}}
}

// FromValue returns a hull holding one point, e.g. a heuristic value. A
// single point can never be dominated, so no pruning runs.
func FromValue[T comparable](v vecmath.Vec, tag T) Hull[T] {
	return Hull[T]{points: map[string]Point[T]{v.Key(): {P: v.Clone(), Tag: tag}}}
}

// New builds a hull from points, pruning dominated ones.
func New[T comparable](points []Point[T]) (Hull[T], error) {
	set := make(map[string]Point[T], len(points))
	for _, p := range points {
		key := p.P.Key()
		if _, ok := set[key]; !ok {
			set[key] = p
		}
	}
	pruned, err := prune(set)
	if err != nil {
		return Hull[T]{}, err
	}
	return Hull[T]{points: pruned}, nil
}

// Size returns the number of hull points.
func (h Hull[T]) Size() int { return len(h.points) }

// Points returns the hull points in unspecified order.
func (h Hull[T]) Points() []Point[T] {
	out := make([]Point[T], 0, len(h.points))
	for _, p := range h.points {
		out = append(out, p)
	}
	return out
}

// Contains reports whether the hull holds a point at exactly v.
func (h Hull[T]) Contains(v vecmath.Vec) bool {
	_, ok := h.points[v.Key()]
	return ok
}

// Equal reports point-set equality, ignoring tags.
func (h Hull[T]) Equal(other Hull[T]) bool {
	if h.Size() != other.Size() {
		return false
	}
	for key := range h.points {
		if _, ok := other.points[key]; !ok {
			return false
		}
	}
	return true
}

// WithTag returns a copy of the hull with every point retagged.
func (h Hull[T]) WithTag(tag T) Hull[T] {
	out := make(map[string]Point[T], len(h.points))
	for key, p := range h.points {
		out[key] = Point[T]{P: p.P, Tag: tag}
	}
	return Hull[T]{points: out}
}

// Scale returns the hull scaled by s. Scaling by a non-negative factor
// preserves non-domination, so no pruning runs.
func (h Hull[T]) Scale(s float64) Hull[T] {
	out := make(map[string]Point[T], len(h.points))
	for _, p := range h.points {
		sp := p.P.Scaled(s)
		out[sp.Key()] = Point[T]{P: sp, Tag: p.Tag}
	}
	return Hull[T]{points: out}
}

// Shift returns the hull translated by v; translation preserves
// non-domination.
func (h Hull[T]) Shift(v vecmath.Vec) Hull[T] {
	out := make(map[string]Point[T], len(h.points))
	for _, p := range h.points {
		sp := p.P.Plus(v)
		out[sp.Key()] = Point[T]{P: sp, Tag: p.Tag}
	}
	return Hull[T]{points: out}
}

// Union combines two hulls and prunes. Pruning must run over the combined
// set: a point each hull keeps individually can be dominated by the mixture
// of points from both.
func (h Hull[T]) Union(other Hull[T]) (Hull[T], error) {
	if other.Size() > h.Size() {
		return other.Union(h)
	}
	if h.Size() == 0 {
		return other, nil
	}
	if other.Size() == 0 {
		return h, nil
	}

	combined := make(map[string]Point[T], len(h.points)+len(other.points))
	for key, p := range h.points {
		combined[key] = p
	}
	for key, p := range other.points {
		if _, ok := combined[key]; !ok {
			combined[key] = p
		}
	}
	pruned, err := prune(combined)
	if err != nil {
		return Hull[T]{}, err
	}
	return Hull[T]{points: pruned}, nil
}

// Add is the Minkowski sum over the finite point sets, pruned. The left
// hull's tags survive.
func (h Hull[T]) Add(other Hull[T]) (Hull[T], error) {
	if h.Size() == 0 {
		return other, nil
	}
	if other.Size() == 0 {
		return h, nil
	}

	summed := make(map[string]Point[T], len(h.points)*len(other.points))
	for _, p := range h.points {
		for _, q := range other.points {
			sp := p.P.Plus(q.P)
			key := sp.Key()
			if _, ok := summed[key]; !ok {
				summed[key] = Point[T]{P: sp, Tag: p.Tag}
			}
		}
	}
	pruned, err := prune(summed)
	if err != nil {
		return Hull[T]{}, err
	}
	return Hull[T]{points: pruned}, nil
}

// BestPoint returns the point maximising weight . p, ties broken at random.
func (h Hull[T]) BestPoint(weight vecmath.Vec, rng *thtsrand.Manager) Point[T] {
	var best Point[T]
	bestValue := 0.0
	first := true
	numTied := 1
	for _, p := range h.points {
		value := p.P.Dot(weight)
		switch {
		case first || value > bestValue:
			best, bestValue = p, value
			first = false
			numTied = 1
		case value == bestValue:
			numTied++
			if rng != nil && rng.Int(0, numTied) == 0 {
				best = p
			}
		}
	}
	return best
}

// MaxLinearUtility returns max over hull points of weight . p.
func (h Hull[T]) MaxLinearUtility(weight vecmath.Vec) float64 {
	best := 0.0
	first := true
	for _, p := range h.points {
		if value := p.P.Dot(weight); first || value > best {
			best = value
			first = false
		}
	}
	return best
}

// prune repeatedly removes points that are strongly convex dominated by the
// remaining set.
func prune[T comparable](points map[string]Point[T]) (map[string]Point[T], error) {
	pruned := make(map[string]Point[T], len(points))
	for key, p := range points {
		pruned[key] = p
	}
	for key, p := range points {
		if _, alive := pruned[key]; !alive {
			continue
		}
		dominated, err := stronglyConvexDominated(pruned, p)
		if err != nil {
			return nil, err
		}
		if dominated {
			delete(pruned, key)
		}
	}
	return pruned, nil
}

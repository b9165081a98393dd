package simplexmap

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

const eps = 1e-12

// TN is a tree-of-simplices node. A leaf owns a simplex of dim vertices on
// the unit simplex; an interior node has either two binary-split children or
// a set of triangulation children.
type TN struct {
	dim   int
	depth int

	vertices []*NGV
	centroid vecmath.Vec
	lInfNorm float64

	splitMu      sync.Mutex
	splitCounter int

	// Outward-opposing hyperplane normals per vertex, computed lazily for
	// containment checks (never needed in 2d).
	normalsOnce sync.Once
	normals     map[*NGV]vecmath.Vec
	normalsErr  error

	// Longest edge by l-infinity, found at construction. The splitting rule
	// may replace it before a split.
	splitEdgeA, splitEdgeB *NGV

	// Binary split state.
	splitNewVertex    *NGV
	splitNormal       vecmath.Vec
	normalSideChild   *TN
	oppositeSideChild *TN

	// Triangulation children.
	children []*TN
}

// newTN builds a tree node over the given simplex vertices, computing the
// centroid and the longest edge, and connecting the vertices in the
// neighbourhood graph.
func newTN(m *Map, dim, depth int, vertices []*NGV) *TN {
	t := &TN{
		dim:      dim,
		depth:    depth,
		vertices: vertices,
		centroid: vecmath.Zero(dim),
	}
	for _, v := range vertices {
		t.centroid.Add(v.Weight)
	}
	t.centroid = t.centroid.Scaled(1.0 / float64(len(vertices)))

	for i := 0; i < len(vertices); i++ {
		for j := i + 1; j < len(vertices); j++ {
			diff := vertices[i].Weight.LInfDist(vertices[j].Weight)
			if diff > t.lInfNorm {
				t.lInfNorm = diff
				t.splitEdgeA = vertices[i]
				t.splitEdgeB = vertices[j]
			}
		}
	}

	m.withVertexLock(func() {
		for i := 0; i < len(vertices); i++ {
			for j := i + 1; j < len(vertices); j++ {
				vertices[i].addConnection(vertices[j])
			}
		}
	})
	return t
}

// Depth returns the node depth in the tree of simplices.
func (t *TN) Depth() int { return t.depth }

// Vertices returns the simplex vertices.
func (t *TN) Vertices() []*NGV { return t.vertices }

// LInfNorm returns the l-infinity diameter of the simplex.
func (t *TN) LInfNorm() float64 { return t.lInfNorm }

// HasChildren reports whether this node has been subdivided.
func (t *TN) HasChildren() bool {
	return len(t.children) > 0 || t.normalSideChild != nil
}

// computeHyperplaneNormal finds the normal of the (dim-2)-plane through the
// given points within the simplex plane. The matrix holds the all-ones
// simplex-plane vector in its first column and the point offsets in the
// rest; the normal is the left-singular vector of its null space, read from
// the SVD.
func (t *TN) computeHyperplaneNormal(points []*NGV) (vecmath.Vec, error) {
	m := mat.NewDense(t.dim, t.dim-1, nil)
	for i := 0; i < t.dim; i++ {
		m.Set(i, 0, 1.0/float64(t.dim))
	}
	if len(points) > 1 {
		v0 := points[0].Weight
		for col := 1; col < len(points); col++ {
			vi := points[col].Weight
			for i := 0; i < t.dim; i++ {
				m.Set(i, col, vi[i]-v0[i])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, thts.Numericf("svd failed to converge computing a simplex hyperplane normal")
	}
	var u mat.Dense
	svd.UTo(&u)

	// Singular values come ordered largest first, so the null-space vector
	// is the last column of U.
	normal := vecmath.Zero(t.dim)
	for i := 0; i < t.dim; i++ {
		normal[i] = u.At(i, t.dim-1)
	}
	return normal, nil
}

// lazyHyperplaneNormals computes the outward-opposing face normal for each
// vertex, oriented toward the centroid. Unused in 2d.
func (t *TN) lazyHyperplaneNormals() error {
	t.normalsOnce.Do(func() {
		if t.dim == 2 {
			return
		}
		t.normals = make(map[*NGV]vecmath.Vec, len(t.vertices))
		for _, opposing := range t.vertices {
			var face []*NGV
			for _, v := range t.vertices {
				if v != opposing {
					face = append(face, v)
				}
			}
			normal, err := t.computeHyperplaneNormal(face)
			if err != nil {
				t.normalsErr = err
				return
			}
			if t.centroid.Sub(face[0].Weight).Dot(normal) < 0 {
				normal = normal.Scaled(-1)
			}
			t.normals[opposing] = normal
		}
	})
	return t.normalsErr
}

func isApproxZero(x float64) bool {
	return -eps < x && x < eps
}

// halfplaneCheck reports whether weight lies on the normal side of the plane
// through planePoint (within tolerance).
func halfplaneCheck(planePoint, planeNormal, weight vecmath.Vec) bool {
	dot := weight.Sub(planePoint).Dot(planeNormal)
	return dot >= 0 || isApproxZero(dot)
}

// ContainsWeight reports whether weight lies in this simplex. The 2d case is
// a coordinate comparison; higher dimensions run the opposing-face halfplane
// checks.
func (t *TN) ContainsWeight(weight vecmath.Vec) (bool, error) {
	if t.dim == 2 {
		lo, hi := t.vertices[0].Weight[0], t.vertices[1].Weight[0]
		if lo > hi {
			lo, hi = hi, lo
		}
		return lo <= weight[0] && weight[0] <= hi, nil
	}

	if err := t.lazyHyperplaneNormals(); err != nil {
		return false, err
	}
	for i, opposing := range t.vertices {
		planePoint := t.vertices[0].Weight
		if i == 0 {
			planePoint = t.vertices[1].Weight
		}
		if !halfplaneCheck(planePoint, t.normals[opposing], weight) {
			return false, nil
		}
	}
	return true, nil
}

// childFor descends one level under the split lock, so a concurrent
// subdivision is either fully visible or not at all. Returns (nil, false) at
// a leaf.
func (t *TN) childFor(weight vecmath.Vec) (*TN, bool, error) {
	t.splitMu.Lock()
	defer t.splitMu.Unlock()
	if !t.HasChildren() {
		return nil, false, nil
	}
	child, err := t.GetChild(weight)
	return child, true, err
}

// GetChild descends one level toward the leaf containing weight.
func (t *TN) GetChild(weight vecmath.Vec) (*TN, error) {
	if t.normalSideChild != nil {
		if t.dim == 2 {
			ok, _ := t.normalSideChild.ContainsWeight(weight)
			if ok {
				return t.normalSideChild, nil
			}
			return t.oppositeSideChild, nil
		}
		if halfplaneCheck(t.splitNewVertex.Weight, t.splitNormal, weight) {
			return t.normalSideChild, nil
		}
		return t.oppositeSideChild, nil
	}

	for _, child := range t.children {
		ok, err := child.ContainsWeight(weight)
		if err != nil {
			return nil, err
		}
		if ok {
			return child, nil
		}
	}
	return nil, thts.Invariantf("no child simplex contains weight %v (not on the unit simplex?)", weight)
}

// GetClosestNGV returns the simplex vertex closest to ctx in Euclidean
// distance.
func (t *TN) GetClosestNGV(ctx vecmath.Vec) *NGV {
	var closest *NGV
	closestDist := math.MaxFloat64
	for _, v := range t.vertices {
		if d := v.Weight.Dist(ctx); d < closestDist {
			closestDist = d
			closest = v
		}
	}
	return closest
}

// BestValueEstimate returns the vertex value estimate maximising ctx-value
// over the simplex vertices.
func (t *TN) BestValueEstimate(ctx vecmath.Vec) vecmath.Vec {
	var best vecmath.Vec
	bestCtxVal := math.Inf(-1)
	for _, v := range t.vertices {
		if cv := ctx.Dot(v.Value); cv > bestCtxVal {
			bestCtxVal = cv
			best = v.Value
		}
	}
	return best
}

// chooseSplittingEdge applies the configured splitting rule, replacing the
// longest-edge default where the rule asks for it.
func (t *TN) chooseSplittingEdge(rule SplitRule, rng *thtsrand.Manager) {
	switch rule {
	case SplitOrdered:
		// Longest edge, first found: the constructor's choice. Deterministic,
		// so repeated builds produce the same topology.
	case SplitSmallestEdgeRandomly:
		var tied [][2]*NGV
		for i := 0; i < len(t.vertices); i++ {
			for j := i + 1; j < len(t.vertices); j++ {
				if t.vertices[i].Weight.LInfDist(t.vertices[j].Weight) == t.lInfNorm {
					tied = append(tied, [2]*NGV{t.vertices[i], t.vertices[j]})
				}
			}
		}
		pick := tied[rng.Int(0, len(tied))]
		t.splitEdgeA, t.splitEdgeB = pick[0], pick[1]
	case SplitRandom:
		i := rng.Int(0, len(t.vertices))
		j := rng.Int(0, len(t.vertices)-1)
		if j >= i {
			j++
		}
		t.splitEdgeA, t.splitEdgeB = t.vertices[i], t.vertices[j]
	case SplitValueDiff:
		bestDiff := -1.0
		for i := 0; i < len(t.vertices); i++ {
			for j := i + 1; j < len(t.vertices); j++ {
				diff := t.vertices[i].Value.Dist(t.vertices[j].Value)
				if diff > bestDiff {
					bestDiff = diff
					t.splitEdgeA, t.splitEdgeB = t.vertices[i], t.vertices[j]
				}
			}
		}
	}
}

// createChildren subdivides this simplex, in binary or triangulation mode.
// Called with the split lock held.
func (t *TN) createChildren(m *Map, rng *thtsrand.Manager) error {
	if m.opts.SplitRule == SplitTriangulation {
		return t.createChildrenTriangulation(m)
	}
	return t.createChildrenBinary(m, rng)
}

// createChildrenBinary bisects the splitting edge at its midpoint: the
// midpoint vertex is created (deduplicated through the global vertex set) and
// inserted on the edge's LSE, the two child simplices share the midpoint plus
// all non-split vertices, and the splitting hyperplane normal is oriented
// toward the normal-side child.
func (t *TN) createChildrenBinary(m *Map, rng *thtsrand.Manager) error {
	t.chooseSplittingEdge(m.opts.SplitRule, rng)

	mid := m.dedupVertex(InterpolateNGV(t.splitEdgeA, t.splitEdgeB, 0.5))
	t.splitNewVertex = mid

	edge := m.getOrCreateLSE(t.splitEdgeA, t.splitEdgeB)
	m.withLSELock(func() {
		edge.insert(mid, t.splitEdgeA, t.splitEdgeB, 0.5, m)
	})

	var common []*NGV
	for _, v := range t.vertices {
		if v != t.splitEdgeA && v != t.splitEdgeB {
			common = append(common, v)
		}
	}
	common = append(common, mid)

	normalSide := append(append([]*NGV{}, common...), t.splitEdgeA)
	oppositeSide := append(append([]*NGV{}, common...), t.splitEdgeB)
	t.normalSideChild = newTN(m, t.dim, t.depth+1, normalSide)
	t.oppositeSideChild = newTN(m, t.dim, t.depth+1, oppositeSide)

	if t.dim > 2 {
		normal, err := t.computeHyperplaneNormal(common)
		if err != nil {
			return err
		}
		normalDir := t.splitEdgeA.Weight.Sub(mid.Weight)
		if normalDir.Dot(normal) < 0 {
			normal = normal.Scaled(-1)
		}
		t.splitNormal = normal
	}
	return nil
}

// createChildrenTriangulation refines the simplex with the precomputed
// triangulation: one deduplicated vertex per edge-point spec, inserted on its
// LSE, then one child simplex per index list.
func (t *TN) createChildrenTriangulation(m *Map) error {
	tri := m.triangulation
	if tri == nil {
		return thts.Configf("triangulation splitting requested but no triangulation is loaded")
	}

	vertices := append([]*NGV{}, t.vertices...)
	for _, ep := range tri.EdgePoints {
		v0 := vertices[ep.Index0]
		v1 := vertices[ep.Index1]
		v := m.dedupVertex(InterpolateNGV(v0, v1, ep.Ratio))
		vertices = append(vertices, v)

		edge := m.getOrCreateLSE(v0, v1)
		m.withLSELock(func() {
			edge.insert(v, v0, v1, ep.Ratio, m)
		})
	}

	for _, indices := range tri.Simplices {
		childVertices := make([]*NGV, 0, len(indices))
		for _, i := range indices {
			childVertices = append(childVertices, vertices[i])
		}
		t.children = append(t.children, newTN(m, t.dim, t.depth+1, childVertices))
	}
	return nil
}

// MaybeSubdivide applies the subdivision policy: never when already split,
// too deep or too small; otherwise the split counter advances while any two
// vertex value estimates differ (and resets when they all agree), and the
// node subdivides when the counter reaches the visit threshold.
func (t *TN) MaybeSubdivide(m *Map, rng *thtsrand.Manager) error {
	t.splitMu.Lock()
	defer t.splitMu.Unlock()

	if t.HasChildren() {
		return nil
	}
	if t.depth >= m.opts.MaxDepth {
		return nil
	}
	if t.lInfNorm <= m.opts.LInfThresh {
		return nil
	}

	nonUniform := false
	ref := t.vertices[0].Value
	for _, v := range t.vertices[1:] {
		if !ref.Equal(v.Value) {
			nonUniform = true
			break
		}
	}
	if nonUniform {
		t.splitCounter++
	} else {
		t.splitCounter = 0
	}

	if t.splitCounter >= m.opts.SplitVisitThresh {
		return t.createChildren(m, rng)
	}
	return nil
}

package simplexmap

import (
	"sync"

	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// SplitRule selects how simplices pick their splitting edge.
type SplitRule int

// The recognised splitting rules.
const (
	// SplitOrdered splits the longest edge, ties broken by first edge found,
	// so repeated builds produce the same split order and graph topology.
	SplitOrdered SplitRule = iota
	// SplitSmallestEdgeRandomly breaks longest-edge ties randomly.
	SplitSmallestEdgeRandomly
	// SplitRandom splits a random edge.
	SplitRandom
	// SplitValueDiff splits the edge with maximal Euclidean distance between
	// its endpoint value estimates.
	SplitValueDiff
	// SplitTriangulation refines with a precomputed triangulation instead of
	// bisection.
	SplitTriangulation
)

// SplitRuleByName resolves a splitting rule from its configuration name.
func SplitRuleByName(name string) (SplitRule, error) {
	switch name {
	case "ordered":
		return SplitOrdered, nil
	case "smallest_edge_randomly":
		return SplitSmallestEdgeRandomly, nil
	case "random":
		return SplitRandom, nil
	case "value_diff":
		return SplitValueDiff, nil
	case "triangulation":
		return SplitTriangulation, nil
	}
	return 0, thts.Configf("unknown simplex-map splitting rule %q", name)
}

// Options configure a simplex map.
type Options struct {
	SplitRule SplitRule

	// LInfThresh stops subdivision of simplices at or below this diameter.
	LInfThresh float64

	// SplitVisitThresh is the number of consecutive value-disagreeing
	// backups a simplex needs before it subdivides.
	SplitVisitThresh int

	// MaxDepth caps the tree-of-simplices depth.
	MaxDepth int

	// TriangulationDir locates the precomputed triangulation files (one per
	// dimension) for SplitTriangulation.
	TriangulationDir string

	// BackupAllVertices updates every vertex of the containing simplex on
	// backup, rather than the nearest one.
	BackupAllVertices bool
}

// DefaultOptions returns the simplex-map option defaults.
func DefaultOptions() Options {
	return Options{
		SplitRule:        SplitValueDiff,
		LInfThresh:       0.05,
		SplitVisitThresh: 10,
		MaxDepth:         int(^uint(0) >> 1),
	}
}

// OptionsFromParams parses simplex-map options out of params.
func OptionsFromParams(params parameters.Params) (Options, error) {
	opts := DefaultOptions()
	ruleName, err := parameters.PopParamOr(params, "simplex_map_splitting_option", "value_diff")
	if err != nil {
		return opts, err
	}
	if opts.SplitRule, err = SplitRuleByName(ruleName); err != nil {
		return opts, err
	}
	if opts.LInfThresh, err = parameters.PopParamOr(params, "simplex_node_l_inf_thresh", opts.LInfThresh); err != nil {
		return opts, err
	}
	if opts.SplitVisitThresh, err = parameters.PopParamOr(params, "simplex_node_split_visit_thresh", opts.SplitVisitThresh); err != nil {
		return opts, err
	}
	if opts.MaxDepth, err = parameters.PopParamOr(params, "simplex_node_max_depth", opts.MaxDepth); err != nil {
		return opts, err
	}
	if opts.TriangulationDir, err = parameters.PopParamOr(params, "triangulation_dir", opts.TriangulationDir); err != nil {
		return opts, err
	}
	if opts.BackupAllVertices, err = parameters.PopParamOr(params, "backup_all_vertices_of_simplex", opts.BackupAllVertices); err != nil {
		return opts, err
	}
	return opts, nil
}

// lseKey is an unordered vertex pair. Vertices are globally deduplicated, so
// pointer identity stands in for weight identity; the pair is normalised by
// weight key so (a,b) and (b,a) collide.
type lseKey struct {
	a, b *NGV
}

func makeLSEKey(v0, v1 *NGV) lseKey {
	if v0.Weight.Key() <= v1.Weight.Key() {
		return lseKey{v0, v1}
	}
	return lseKey{v1, v0}
}

// Map refines the unit (dim-1)-simplex into a tree of simplices whose leaf
// vertices carry value estimates. The three locks follow the shared-resource
// discipline: one for the LSE map, one for vertex values and adjacency
// during message passing and dedup, and a per-TN split lock.
type Map struct {
	dim  int
	opts Options

	root *TN

	lseMu  sync.Mutex
	lseMap map[lseKey]*LSE

	vertexMu  sync.Mutex
	vertices  []*NGV
	vertexSet map[string]*NGV

	triangulation *Triangulation
}

// New builds the simplex map for the given reward dimension, with the unit
// basis vectors as the initial vertices, all holding defaultValue.
func New(dim int, defaultValue vecmath.Vec, opts Options) (*Map, error) {
	if dim < 2 {
		return nil, thts.Configf("simplex map needs reward dimension >= 2, got %d", dim)
	}
	m := &Map{
		dim:       dim,
		opts:      opts,
		lseMap:    make(map[lseKey]*LSE),
		vertexSet: make(map[string]*NGV),
	}
	if opts.SplitRule == SplitTriangulation {
		tri, err := LoadTriangulation(opts.TriangulationDir, dim)
		if err != nil {
			return nil, err
		}
		m.triangulation = tri
	}

	unitVertices := make([]*NGV, dim)
	for i := 0; i < dim; i++ {
		v := NewNGV(vecmath.Basis(dim, i), defaultValue, 0.0)
		m.vertices = append(m.vertices, v)
		m.vertexSet[v.Weight.Key()] = v
		unitVertices[i] = v
	}
	m.root = newTN(m, dim, 0, unitVertices)
	return m, nil
}

// Dim returns the reward dimension.
func (m *Map) Dim() int { return m.dim }

// Opts returns the map options.
func (m *Map) Opts() Options { return m.opts }

// Root returns the root tree node (the whole unit simplex).
func (m *Map) Root() *TN { return m.root }

// Vertices returns the global vertex list.
func (m *Map) Vertices() []*NGV {
	m.vertexMu.Lock()
	defer m.vertexMu.Unlock()
	out := make([]*NGV, len(m.vertices))
	copy(out, m.vertices)
	return out
}

// NumVertices returns the global vertex count.
func (m *Map) NumVertices() int {
	m.vertexMu.Lock()
	defer m.vertexMu.Unlock()
	return len(m.vertices)
}

func (m *Map) withVertexLock(fn func()) {
	m.vertexMu.Lock()
	defer m.vertexMu.Unlock()
	fn()
}

func (m *Map) withLSELock(fn func()) {
	m.lseMu.Lock()
	defer m.lseMu.Unlock()
	fn()
}

// dedupVertex coalesces v with an existing vertex at the same weight, or
// registers it globally.
func (m *Map) dedupVertex(v *NGV) *NGV {
	m.vertexMu.Lock()
	defer m.vertexMu.Unlock()
	if existing, ok := m.vertexSet[v.Weight.Key()]; ok {
		return existing
	}
	m.vertices = append(m.vertices, v)
	m.vertexSet[v.Weight.Key()] = v
	return v
}

// getOrCreateLSE returns the edge between v0 and v1, creating it on first
// use.
func (m *Map) getOrCreateLSE(v0, v1 *NGV) *LSE {
	m.lseMu.Lock()
	defer m.lseMu.Unlock()
	key := makeLSEKey(v0, v1)
	if e, ok := m.lseMap[key]; ok {
		return e
	}
	e := newLSE(v0, v1)
	m.lseMap[key] = e
	return e
}

// registerLSE maps the (v0,v1) pair onto edge. Called with the LSE lock
// already held by the inserting path.
func (m *Map) registerLSE(v0, v1 *NGV, edge *LSE) {
	m.lseMap[makeLSEKey(v0, v1)] = edge
}

// GetLeafTN descends to the leaf simplex containing ctx. Every weight on the
// unit simplex resolves to exactly one leaf.
func (m *Map) GetLeafTN(ctx vecmath.Vec) (*TN, error) {
	cur := m.root
	for {
		next, descended, err := cur.childFor(ctx)
		if err != nil {
			return nil, err
		}
		if !descended {
			return cur, nil
		}
		cur = next
	}
}

// SampleRandomNGV returns a uniformly random global vertex.
func (m *Map) SampleRandomNGV(rng *thtsrand.Manager) *NGV {
	m.vertexMu.Lock()
	defer m.vertexMu.Unlock()
	return m.vertices[rng.Int(0, len(m.vertices))]
}

// SetVertexEstimate writes a value/entropy estimate onto v under the vertex
// lock.
func (m *Map) SetVertexEstimate(v *NGV, value vecmath.Vec, entropy float64) {
	m.vertexMu.Lock()
	defer m.vertexMu.Unlock()
	v.Value = value.Clone()
	v.Entropy = entropy
}

// MessagePass shares v's estimate with its neighbours (push) and adopts any
// better neighbour estimate (pull). Repeated updates converge the
// piecewise-constant value on the neighbourhood graph toward its
// piecewise-linear envelope.
func (m *Map) MessagePass(v *NGV) {
	m.vertexMu.Lock()
	defer m.vertexMu.Unlock()
	v.sharePush()
	v.sharePull()
}

// VertexEstimate reads v's estimate under the vertex lock.
func (m *Map) VertexEstimate(v *NGV) (vecmath.Vec, float64) {
	m.vertexMu.Lock()
	defer m.vertexMu.Unlock()
	return v.Value.Clone(), v.Entropy
}

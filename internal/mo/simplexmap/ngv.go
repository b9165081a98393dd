// Package simplexmap implements the simplex-map family's secondary
// structure: a tree of simplices refining the unit weight simplex, overlaid
// with a neighbourhood graph of vertices (NGVs) carrying value and entropy
// estimates, updated by message passing over the graph.
package simplexmap

import (
	"github.com/trialsearch/go-thts/internal/generics"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// NGV is a neighbourhood-graph vertex: a point on the unit simplex carrying a
// value estimate vector and an entropy scalar. Vertices at the same weight
// are coalesced through the map's global vertex set, so pointer identity
// implies weight identity.
//
// Value and entropy mutations and adjacency changes are guarded by the map's
// vertex lock; NGV methods themselves do not lock.
type NGV struct {
	Weight vecmath.Vec

	Value   vecmath.Vec
	Entropy float64

	neighbours generics.Set[*NGV]
}

// NewNGV builds a vertex at weight with the given initial estimates.
func NewNGV(weight, initValue vecmath.Vec, initEntropy float64) *NGV {
	return &NGV{
		Weight:     weight.Clone(),
		Value:      initValue.Clone(),
		Entropy:    initEntropy,
		neighbours: generics.MakeSet[*NGV](),
	}
}

// InterpolateNGV builds the vertex at ratio*v0 + (1-ratio)*v1, initialised
// from whichever endpoint's estimate scores better under the new weight.
// Graph connections are made by the LSE insertion, not here: another vertex
// may already sit between v0 and v1.
func InterpolateNGV(v0, v1 *NGV, ratio float64) *NGV {
	weight := v0.Weight.Scaled(ratio)
	weight.Add(v1.Weight.Scaled(1.0 - ratio))

	v := &NGV{Weight: weight, neighbours: generics.MakeSet[*NGV]()}
	if weight.Dot(v0.Value) >= weight.Dot(v1.Value) {
		v.Value = v0.Value.Clone()
		v.Entropy = v0.Entropy
	} else {
		v.Value = v1.Value.Clone()
		v.Entropy = v1.Entropy
	}
	return v
}

// Neighbours returns the adjacency set.
func (v *NGV) Neighbours() generics.Set[*NGV] { return v.neighbours }

// addConnection links v and other both ways.
func (v *NGV) addConnection(other *NGV) {
	v.neighbours.Insert(other)
	other.neighbours.Insert(v)
}

// eraseConnection unlinks v and other both ways.
func (v *NGV) eraseConnection(other *NGV) {
	v.neighbours.Delete(other)
	other.neighbours.Delete(v)
}

// ContextualValue returns ctx . value.
func (v *NGV) ContextualValue(ctx vecmath.Vec) float64 {
	return v.Value.Dot(ctx)
}

// sharePush copies v's estimate onto each neighbour whose own weight prefers
// it.
func (v *NGV) sharePush() {
	for other := range v.neighbours {
		if other.Weight.Dot(v.Value) > other.Weight.Dot(other.Value) {
			other.Value = v.Value.Clone()
			other.Entropy = v.Entropy
		}
	}
}

// sharePull copies a neighbour's estimate onto v when v's weight prefers it.
func (v *NGV) sharePull() {
	for other := range v.neighbours {
		if v.Weight.Dot(other.Value) > v.Weight.Dot(v.Value) {
			v.Value = other.Value.Clone()
			v.Entropy = other.Entropy
		}
	}
}

// Package vecmath implements the small amount of dense vector arithmetic the
// search core needs for multi-objective rewards and simplex geometry.
//
// Values are plain []float64 slices; anything heavier (SVD, LP) goes through
// gonum directly where it is needed.
package vecmath

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Vec is a reward, value or weight vector.
type Vec []float64

// Zero returns a zero vector of the given dimension.
func Zero(dim int) Vec {
	return make(Vec, dim)
}

// Scalar wraps a scalar reward as a 1-dimensional vector.
func Scalar(x float64) Vec {
	return Vec{x}
}

// Constant returns a vector with every component set to x.
func Constant(dim int, x float64) Vec {
	v := make(Vec, dim)
	for i := range v {
		v[i] = x
	}
	return v
}

// Basis returns the i-th unit basis vector of the given dimension.
func Basis(dim, i int) Vec {
	v := make(Vec, dim)
	v[i] = 1.0
	return v
}

// Clone returns an independent copy of v.
func (v Vec) Clone() Vec {
	out := make(Vec, len(v))
	copy(out, v)
	return out
}

// Add accumulates src into dst in place.
func (v Vec) Add(src Vec) {
	floats.Add(v, src)
}

// Sub returns v - u as a new vector.
func (v Vec) Sub(u Vec) Vec {
	out := v.Clone()
	floats.Sub(out, u)
	return out
}

// Plus returns v + u as a new vector.
func (v Vec) Plus(u Vec) Vec {
	out := v.Clone()
	floats.Add(out, u)
	return out
}

// Scaled returns s*v as a new vector.
func (v Vec) Scaled(s float64) Vec {
	out := v.Clone()
	floats.Scale(s, out)
	return out
}

// Dot returns the inner product of v and u.
func (v Vec) Dot(u Vec) float64 {
	return floats.Dot(v, u)
}

// Dist returns the Euclidean distance between v and u.
func (v Vec) Dist(u Vec) float64 {
	return floats.Distance(v, u, 2)
}

// LInfDist returns the l-infinity distance between v and u.
func (v Vec) LInfDist(u Vec) float64 {
	return floats.Distance(v, u, math.Inf(1))
}

// Sum returns the sum of the components of v.
func (v Vec) Sum() float64 {
	return floats.Sum(v)
}

// Equal reports exact component-wise equality.
func (v Vec) Equal(u Vec) bool {
	return floats.Equal(v, u)
}

// Key returns a canonical string form of v, usable as a map key where vectors
// need to be deduplicated (slices are not comparable).
func (v Vec) Key() string {
	var sb strings.Builder
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	return sb.String()
}

// String implements fmt.Stringer.
func (v Vec) String() string {
	return "[" + v.Key() + "]"
}

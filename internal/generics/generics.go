// Package generics implements generic data structure functions missing from the stdlib.
package generics

import (
	"cmp"
	"iter"
	"slices"
)

// SliceMap executes the given function sequentially for every element on in, and returns a mapped slice.
func SliceMap[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// KeysSlice returns a slice with the keys of a map.
func KeysSlice[Map interface{ ~map[K]V }, K comparable, V any](m Map) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// SortedKeys returns an iterator over the sorted keys of the given map.
//
// It extracts the keys, sort them and then iterate over, so it's convenient but not fast.
func SortedKeys[M interface{ ~map[K]V }, K cmp.Ordered, V any](m M) iter.Seq[K] {
	sortedKeys := KeysSlice(m)
	slices.Sort(sortedKeys)
	return slices.Values(sortedKeys)
}

// Pair defines a pair of 2 different arbitrary pairs.
type Pair[F, S any] struct {
	First  F
	Second S
}

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// MakeSet returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func MakeSet[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// SetWith creates a Set[T] with the given elements inserted.
func SetWith[T comparable](elements ...T) Set[T] {
	s := MakeSet[T](len(elements))
	for _, element := range elements {
		s.Insert(element)
	}
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Delete removes keys from the set, if present.
func (s Set[T]) Delete(keys ...T) {
	for _, key := range keys {
		delete(s, key)
	}
}

// Equal returns whether s and s2 have the exact same elements.
func (s Set[T]) Equal(s2 Set[T]) bool {
	if len(s) != len(s2) {
		return false
	}
	for k := range s {
		if !s2.Has(k) {
			return false
		}
	}
	return true
}

// ArgMax returns the key of m with the maximal value. Ties are broken by the
// tieBreak function, which receives the number of tied keys seen so far and
// returns whether to switch to the new key -- pass a function backed by an RNG
// to break ties uniformly at random (reservoir sampling over ties).
//
// Panics if m is empty.
func ArgMax[Map interface{ ~map[K]V }, K comparable, V cmp.Ordered](m Map, tieBreak func(numTied int) bool) K {
	var best K
	var bestVal V
	first := true
	numTied := 1
	for k, v := range m {
		switch {
		case first || v > bestVal:
			best, bestVal = k, v
			first = false
			numTied = 1
		case v == bestVal:
			numTied++
			if tieBreak != nil && tieBreak(numTied) {
				best = k
			}
		}
	}
	if first {
		panic("ArgMax called on empty map")
	}
	return best
}

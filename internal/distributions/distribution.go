// Package distributions implements the sampling primitives used by the search
// core: categorical distributions with amortised-O(1) alias sampling, discrete
// uniform and mixed distributions, and a max-heap with key-indexed updates.
package distributions

import "github.com/trialsearch/go-thts/internal/thtsrand"

// Distribution is a sampleable distribution over values of type T.
type Distribution[T comparable] interface {
	Sample(rng *thtsrand.Manager) T
}

package distributions

import "github.com/trialsearch/go-thts/internal/thtsrand"

// DiscreteUniform is a uniform distribution over a fixed finite key list.
type DiscreteUniform[T comparable] struct {
	keys []T
}

// NewDiscreteUniform wraps the given keys. The slice is not copied.
func NewDiscreteUniform[T comparable](keys []T) *DiscreteUniform[T] {
	return &DiscreteUniform[T]{keys: keys}
}

// Sample returns a uniformly random key.
func (d *DiscreteUniform[T]) Sample(rng *thtsrand.Manager) T {
	return d.keys[rng.Int(0, len(d.keys))]
}

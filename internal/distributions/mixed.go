package distributions

import (
	"github.com/pkg/errors"

	"github.com/trialsearch/go-thts/internal/thtsrand"
)

// Mixed samples a component distribution from an outer categorical, then
// samples from that component.
type Mixed[T comparable] struct {
	components []Distribution[T]
	outer      *Categorical[int]
}

// NewMixed builds a mixture from components and their (unnormalised) mixture
// weights.
func NewMixed[T comparable](components []Distribution[T], weights []float64) (*Mixed[T], error) {
	if len(components) != len(weights) {
		return nil, errors.Errorf(
			"mixed distribution needs one weight per component, got %d components and %d weights",
			len(components), len(weights))
	}
	outerWeights := make(map[int]float64, len(weights))
	for i, w := range weights {
		outerWeights[i] = w
	}
	outer, err := NewCategorical(outerWeights, false, 1)
	if err != nil {
		return nil, errors.Wrap(err, "building mixture weights")
	}
	return &Mixed[T]{components: components, outer: outer}, nil
}

// Sample picks a component and samples from it.
func (m *Mixed[T]) Sample(rng *thtsrand.Manager) T {
	return m.components[m.outer.Sample(rng)].Sample(rng)
}

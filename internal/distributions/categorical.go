package distributions

import (
	"github.com/pkg/errors"

	"github.com/trialsearch/go-thts/internal/thtsrand"
)

// Categorical is a distribution over values of type T with non-negative
// weights. By default sampling walks the weight map in O(n); with the alias
// method enabled it builds an alias table for O(1) sampling at an O(n)
// construction cost.
//
// Update changes a single weight. With the alias method, the table is only
// rebuilt every reconstructFreq updates, so the sampled distribution can be
// slightly stale between rebuilds; setting reconstructFreq to O(n) makes
// Update amortised O(1). That staleness is a deliberate trade.
//
// The alias method: scale weights to average 1 over n slots. Partition slots
// into "small" (threshold < 1) and "large" (threshold > 1); repeatedly pair a
// small slot with a large one, giving the small slot's spare density to the
// large outcome and decrementing the large slot's threshold; residual slots
// are clamped to threshold 1. To sample, pick a slot uniformly, then return
// its first outcome if a uniform draw falls below the threshold and its
// second otherwise.
type Categorical[T comparable] struct {
	weights         map[T]float64
	useAlias        bool
	reconstructFreq int
	numUpdates      int
	alias           []aliasEntry[T]
}

type aliasEntry[T comparable] struct {
	threshold     float64
	first, second T
}

// NewCategorical builds a distribution from outcome weights. Weights must be
// non-negative and sum to a positive value.
func NewCategorical[T comparable](weights map[T]float64, useAlias bool, reconstructFreq int) (*Categorical[T], error) {
	if len(weights) == 0 {
		return nil, errors.New("categorical distribution needs at least one outcome")
	}
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return nil, errors.Errorf("categorical distribution got negative weight %v", w)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, errors.New("categorical distribution weights sum to zero")
	}
	if reconstructFreq < 1 {
		reconstructFreq = 1
	}
	c := &Categorical[T]{
		weights:         weights,
		useAlias:        useAlias,
		reconstructFreq: reconstructFreq,
	}
	if useAlias {
		c.constructAliasTable()
	}
	return c, nil
}

// Sample draws an outcome from the distribution.
func (c *Categorical[T]) Sample(rng *thtsrand.Manager) T {
	if !c.useAlias {
		return sampleFromWeights(c.weights, rng)
	}
	entry := &c.alias[rng.Int(0, len(c.alias))]
	if entry.threshold < 1.0 && rng.Uniform() < entry.threshold {
		return entry.first
	}
	return entry.second
}

// Update sets the weight of key. With the alias method the table is rebuilt
// only every reconstructFreq updates.
func (c *Categorical[T]) Update(key T, weight float64) {
	_, known := c.weights[key]
	c.weights[key] = weight
	c.numUpdates++
	if !c.useAlias {
		return
	}
	if !known {
		// New outcome changes the table size; rebuild from scratch.
		c.alias = nil
		c.constructAliasTable()
		c.numUpdates = 0
		return
	}
	if c.numUpdates >= c.reconstructFreq {
		c.reconstructAliasTable(false)
		c.numUpdates = 0
	}
}

// Replace swaps the whole weight map and resets the rebuild cadence.
func (c *Categorical[T]) Replace(weights map[T]float64) {
	sameSize := len(weights) == len(c.weights)
	c.weights = weights
	c.numUpdates = 0
	if !c.useAlias {
		return
	}
	if sameSize {
		c.reconstructAliasTable(false)
	} else {
		c.alias = nil
		c.constructAliasTable()
	}
}

func (c *Categorical[T]) constructAliasTable() {
	var sum float64
	for _, w := range c.weights {
		sum += w
	}
	n := len(c.weights)
	for key, w := range c.weights {
		u := w * float64(n) / sum
		c.alias = append(c.alias, aliasEntry[T]{threshold: u, first: key, second: key})
	}
	c.reconstructAliasTable(true)
}

func (c *Categorical[T]) reconstructAliasTable(justConstructed bool) {
	if !justConstructed {
		var sum float64
		for _, w := range c.weights {
			sum += w
		}
		n := len(c.weights)
		i := 0
		for key, w := range c.weights {
			u := w * float64(n) / sum
			c.alias[i] = aliasEntry[T]{threshold: u, first: key, second: key}
			i++
		}
	}

	var large, small []int
	for i := range c.alias {
		switch {
		case c.alias[i].threshold > 1.0:
			large = append(large, i)
		case c.alias[i].threshold < 1.0:
			small = append(small, i)
		}
	}

	for len(large) > 0 && len(small) > 0 {
		l := large[len(large)-1]
		s := small[len(small)-1]
		large = large[:len(large)-1]
		small = small[:len(small)-1]

		// The large slot always has enough density to fill the small slot up.
		c.alias[s].second = c.alias[l].first
		c.alias[l].threshold -= 1.0 - c.alias[s].threshold

		if c.alias[l].threshold > 1.0 {
			large = append(large, l)
		} else if c.alias[l].threshold < 1.0 {
			small = append(small, l)
		}
	}

	// Clamp residual thresholds to 1. Any density lost here is a rounding
	// residue well below what sampling can resolve.
	for _, l := range large {
		c.alias[l].threshold = 1.0
	}
	for _, s := range small {
		c.alias[s].threshold = 1.0
	}
}

// sampleFromWeights does O(n) inverse-CDF sampling over an (unnormalised)
// weight map.
func sampleFromWeights[T comparable](weights map[T]float64, rng *thtsrand.Manager) T {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	target := rng.Uniform() * sum
	var acc float64
	var last T
	for key, w := range weights {
		acc += w
		last = key
		if target < acc {
			return key
		}
	}
	// Rounding can push the target past the accumulated sum; return the last
	// outcome seen.
	return last
}

// SampleFromWeights samples from an unnormalised weight map in O(n). It is the
// non-cached path used by selection rules that rebuild their distribution on
// every call.
func SampleFromWeights[T comparable](weights map[T]float64, rng *thtsrand.Manager) T {
	return sampleFromWeights(weights, rng)
}

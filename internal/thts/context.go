package thts

import (
	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// TrialContext is the per-worker scratch object that lives for one trial. It
// carries the per-trial random draws that must stay consistent across the
// trial (the sampled context weight in multi-objective search), the worker's
// RNG, and per-depth slots that nodes use to stash information between
// selection and backup within the trial.
//
// The slots are a fixed-layout array indexed by decision depth, so accessors
// are typed and cannot collide across depths.
type TrialContext struct {
	WorkerID int
	RNG      *thtsrand.Manager

	// Weight is the sampled linear scalarisation over the reward simplex,
	// held constant through the trial. Nil for scalar domains.
	Weight vecmath.Vec

	slots []TrialSlot
}

// TrialSlot holds what a node at one decision depth stashed during selection
// for its own backup later in the same trial.
type TrialSlot struct {
	// Action is the action selected at this depth.
	Action any
	// Ball is the ball-list ball descended into at this depth (CZT family).
	Ball any
	// Distr is the action distribution computed at this depth (RENTS reads
	// the parent depth's distribution).
	Distr any
}

// NewTrialContext returns a context for one trial of the given worker.
func NewTrialContext(workerID int, rng *thtsrand.Manager) *TrialContext {
	return &TrialContext{WorkerID: workerID, RNG: rng}
}

// Slot returns the slot for the given decision depth, growing the slot array
// as needed.
func (c *TrialContext) Slot(depth int) *TrialSlot {
	for len(c.slots) <= depth {
		c.slots = append(c.slots, TrialSlot{})
	}
	return &c.slots[depth]
}

// SelectedAction returns the action recorded at the given depth, or false if
// none was recorded.
func (c *TrialContext) SelectedAction(depth int) (any, bool) {
	if depth >= len(c.slots) || c.slots[depth].Action == nil {
		return nil, false
	}
	return c.slots[depth].Action, true
}

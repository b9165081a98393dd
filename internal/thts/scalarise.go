package thts

import "github.com/trialsearch/go-thts/internal/vecmath"

// Scalarise collapses a reward or return vector to the scalar the trial
// optimises: the context-weighted linear scalarisation in multi-objective
// domains, or the single component in scalar domains.
func Scalarise(v vecmath.Vec, ctx *TrialContext) float64 {
	if ctx != nil && ctx.Weight != nil && len(ctx.Weight) == len(v) {
		return v.Dot(ctx.Weight)
	}
	return v[0]
}

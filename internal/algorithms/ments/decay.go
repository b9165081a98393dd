package ments

import (
	"math"

	"github.com/trialsearch/go-thts/internal/thts"
)

// DecayFn computes a decayed temperature from the initial temperature, the
// minimum temperature, the node visit count and the visit scale.
type DecayFn func(initTemp, minTemp float64, visits int64, visitsScale float64) float64

// InvSqrtDecay decays the temperature with the inverse square root of the
// scaled visit count.
func InvSqrtDecay(initTemp, minTemp float64, visits int64, visitsScale float64) float64 {
	temp := initTemp * math.Sqrt(visitsScale/(visitsScale+float64(visits)))
	return math.Max(temp, minTemp)
}

// InvLogDecay decays the temperature with the inverse logarithm of the scaled
// visit count.
func InvLogDecay(initTemp, minTemp float64, visits int64, visitsScale float64) float64 {
	temp := initTemp / math.Log(math.E+float64(visits)/visitsScale)
	return math.Max(temp, minTemp)
}

// BtsPresetDecay is an experimental preset, not a contractual part of the
// selection rule: a faster decay used in some BTS experiments.
func BtsPresetDecay(initTemp, minTemp float64, visits int64, visitsScale float64) float64 {
	temp := initTemp / (1.0 + math.Sqrt(float64(visits)/visitsScale))
	return math.Max(temp, minTemp)
}

// DecayFnByName resolves a decay function from its configuration name. The
// empty name means no decay.
func DecayFnByName(name string) (DecayFn, error) {
	switch name {
	case "":
		return nil, nil
	case "inv_sqrt":
		return InvSqrtDecay, nil
	case "inv_log":
		return InvLogDecay, nil
	case "bts_preset":
		return BtsPresetDecay, nil
	}
	return nil, thts.Configf("unknown temperature decay function %q", name)
}

// decayedTemp applies fn, or returns initTemp when no decay is configured.
func decayedTemp(fn DecayFn, initTemp, minTemp float64, visits int64, visitsScale float64) float64 {
	if fn == nil {
		return initTemp
	}
	if visitsScale <= 0 {
		visitsScale = 1
	}
	return fn(initTemp, minTemp, visits, visitsScale)
}

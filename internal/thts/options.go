package thts

import (
	"math"
	"time"

	"github.com/trialsearch/go-thts/internal/parameters"
)

// Options are the algorithm-independent manager options. Algorithm families
// carry their own option structs next to their Algorithm implementations.
type Options struct {
	// Seed is the base seed for the per-worker PRNGs.
	Seed int64

	// MaxDepth is the hard cap on decision depth.
	MaxDepth int

	// TwoPlayer marks alternating-move minimax domains: nodes at odd decision
	// timesteps act as the opponent and minimise.
	TwoPlayer bool

	// MctsMode selects DP-style max backups instead of running averages from
	// below (UCT and DB families).
	MctsMode bool

	// RewardDim is the expected reward dimensionality. Left at 0 it is taken
	// from the environment; set explicitly it must match the environment's.
	RewardDim int

	// HeuristicPseudoTrials is the initial visit count seeded by a heuristic.
	HeuristicPseudoTrials int

	// UseTransposition enables the transposition table.
	UseTransposition bool

	// LogTrialInterval and LogTimeInterval control the logger hook cadence;
	// zero disables the respective trigger.
	LogTrialInterval int64
	LogTimeInterval  time.Duration
}

// DefaultOptions returns the option defaults.
func DefaultOptions() Options {
	return Options{
		Seed:     60415,
		MaxDepth: math.MaxInt32,
	}
}

// OptionsFromParams parses the common options out of params, removing the
// keys it consumes.
func OptionsFromParams(params parameters.Params) (Options, error) {
	opts := DefaultOptions()
	var err error
	if opts.Seed, err = parameters.PopParamOr(params, "seed", opts.Seed); err != nil {
		return opts, err
	}
	if opts.MaxDepth, err = parameters.PopParamOr(params, "max_depth", opts.MaxDepth); err != nil {
		return opts, err
	}
	if opts.TwoPlayer, err = parameters.PopParamOr(params, "two_player", opts.TwoPlayer); err != nil {
		return opts, err
	}
	if opts.MctsMode, err = parameters.PopParamOr(params, "mcts_mode", opts.MctsMode); err != nil {
		return opts, err
	}
	if opts.RewardDim, err = parameters.PopParamOr(params, "reward_dim", opts.RewardDim); err != nil {
		return opts, err
	}
	if opts.HeuristicPseudoTrials, err = parameters.PopParamOr(params, "heuristic_psuedo_trials", opts.HeuristicPseudoTrials); err != nil {
		return opts, err
	}
	if opts.UseTransposition, err = parameters.PopParamOr(params, "transposition_use_if_possible", opts.UseTransposition); err != nil {
		return opts, err
	}
	if opts.LogTrialInterval, err = parameters.PopParamOr(params, "log_trial_interval", opts.LogTrialInterval); err != nil {
		return opts, err
	}
	if opts.LogTimeInterval, err = parameters.PopParamOr(params, "log_time_interval", opts.LogTimeInterval); err != nil {
		return opts, err
	}
	return opts, nil
}

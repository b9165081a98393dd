package thts

import "fmt"

// The search core surfaces failures to the caller as one of four structured
// error kinds. They are never swallowed: anything that is not explicitly
// recoverable stops the worker that observed it, and the pool joins and
// reports the first error.

// ConfigError reports an inconsistent manager configuration, e.g. a reward
// dimension mismatch between manager and environment, or an unknown
// simplex-split rule.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "thts: config: " + e.Msg }

// Configf builds a ConfigError.
func Configf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// EnvironmentError reports a misbehaving environment, e.g. an empty action
// set at a non-sink state, or a transition distribution that fails to sum.
type EnvironmentError struct {
	Msg string
}

func (e *EnvironmentError) Error() string { return "thts: environment: " + e.Msg }

// Environmentf builds an EnvironmentError.
func Environmentf(format string, args ...any) error {
	return &EnvironmentError{Msg: fmt.Sprintf(format, args...)}
}

// NumericError reports a numerical procedure failing to converge: the LP
// solver in hull pruning not reaching optimality (distinct from
// infeasibility, which is a recoverable "not dominated"), or a simplex-normal
// SVD not converging.
type NumericError struct {
	Msg string
}

func (e *NumericError) Error() string { return "thts: numeric: " + e.Msg }

// Numericf builds a NumericError.
func Numericf(format string, args ...any) error {
	return &NumericError{Msg: fmt.Sprintf(format, args...)}
}

// InternalInvariantError reports a broken invariant of the shared tree or of
// a secondary structure, e.g. a ball list with no relevant balls for a legal
// weight, or a simplex map failing its coverage check.
type InternalInvariantError struct {
	Msg string
}

func (e *InternalInvariantError) Error() string { return "thts: invariant: " + e.Msg }

// Invariantf builds an InternalInvariantError.
func Invariantf(format string, args ...any) error {
	return &InternalInvariantError{Msg: fmt.Sprintf(format, args...)}
}

package covertree

import "runtime"

// Params controls cover-tree construction behavior for the shared-memory
// builder. Start with [DefaultParams] and override the fields you need.
type Params struct {
	// SplitRatio is the hub split ratio σ: a hub admits a new center only
	// if the farthest unassigned candidate lies beyond SplitRatio times the
	// hub's current active radius from every existing center.
	// Must be in (0, 1]. Default: 0.5.
	SplitRatio float64

	// SwitchSize is the average candidate-set size, over currently active
	// hubs, below which the builder abandons level-synchronous mode and
	// dispatches every remaining hub as an independent task. 0 means the
	// entire build is task-parallel from the start; +Inf means fully
	// level-synchronous. Default: 0.
	SwitchSize float64

	// MinHubSize is the candidate-set size at or below which a hub skips
	// refinement entirely and commits every candidate as a direct leaf
	// child of its parent vertex, with cover radius 0. Must be >= 1.
	// Default: 10.
	MinHubSize int

	// LevelSynchronous selects the builder's starting mode. When false,
	// the build is fully task-parallel from the start, equivalent to the
	// original driver's "-A" (asynchronous) flag. Default: true.
	LevelSynchronous bool

	// Workers bounds the number of goroutines used for level-synchronous
	// rounds, per-subtree task fan-out, and inner point-scan parallelism.
	// 0 means use runtime.NumCPU(). Default: 0 (auto).
	Workers int

	// Verbose records whether verbose output was requested. Build does not
	// read it: its per-round debug lines (hub counts, mode-switch
	// transition) go to the logger passed to Build and appear when that
	// logger is at zap's Debug level, as NewLogger(true) sets it.
	Verbose bool
}

// DefaultParams returns a Params with the defaults taken from the original
// driver's globals: SplitRatio=0.5, SwitchSize=0, MinHubSize=10,
// LevelSynchronous=true.
func DefaultParams() Params {
	return Params{
		SplitRatio:       0.5,
		SwitchSize:       0,
		MinHubSize:       10,
		LevelSynchronous: true,
	}
}

// validateParams checks that p's fields are within the ranges spec §7's
// Parameter error class requires.
func validateParams(p *Params) error {
	if p.SplitRatio <= 0 || p.SplitRatio > 1 {
		return &ParameterError{Msg: "SplitRatio must be in (0, 1]"}
	}
	if p.MinHubSize < 1 {
		return &ParameterError{Msg: "MinHubSize must be >= 1"}
	}
	if p.SwitchSize < 0 {
		return &ParameterError{Msg: "SwitchSize must be >= 0"}
	}
	return nil
}

// applyParamDefaults fills the zero-valued SplitRatio, MinHubSize and
// Workers fields of p with their defaults; other fields are left as given.
func applyParamDefaults(p *Params) {
	if p.SplitRatio == 0 {
		p.SplitRatio = 0.5
	}
	if p.MinHubSize == 0 {
		p.MinHubSize = 10
	}
	if p.Workers == 0 {
		p.Workers = runtime.NumCPU()
	}
}

// QueryParams controls RadiusQuery validation.
type QueryParams struct {
	// Radius must be >= 0. Enforced only when explicitly validated by
	// callers that require the Parameter error class (e.g. "-G" graph
	// verification); RadiusQuery itself treats a negative radius as
	// simply matching nothing.
	Radius float64
}

// ValidateRadius enforces the Parameter error class of spec §7: a radius
// must be >= 0. Callers that treat a negative radius as simply "no graph
// phase" (RadiusQuery itself) don't need this; drivers that require -G's
// explicit diagnostic-and-exit-nonzero behavior call it before proceeding.
func ValidateRadius(r float64) error {
	if r < 0 {
		return &ParameterError{Msg: "radius must be >= 0"}
	}
	return nil
}

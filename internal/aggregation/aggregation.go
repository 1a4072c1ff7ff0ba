// Package aggregation reduces per-model scores to a single score under a
// named policy. Aggregation is a pure function of its input: no state, no
// side effects, deterministic for any ordering of the input slice.
//
// Empty input is defined, not erroneous: every policy returns 0.0 for zero
// scores. "All models failed" is a decision point owned by the caller, which
// must detect and escalate that case before aggregating.
package aggregation

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance for policy structs.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Method names a score-aggregation policy.
type Method string

const (
	// MethodAverage is the arithmetic mean of all scores.
	MethodAverage Method = "average"

	// MethodMedian is the sorted middle value; for an even count, the mean
	// of the two central values.
	MethodMedian Method = "median"

	// MethodMin is the exact minimum.
	MethodMin Method = "min"

	// MethodMax is the exact maximum.
	MethodMax Method = "max"

	// MethodConsensus is the mean, accepted only when the score spread
	// (max - min) stays within the policy tolerance. A wider spread fails
	// with *ConsensusError rather than silently falling back.
	MethodConsensus Method = "consensus"
)

// String returns the string representation of the method.
func (m Method) String() string { return string(m) }

// Policy selects an aggregation method and its parameters.
type Policy struct {
	// Method is the aggregation algorithm to apply.
	Method Method `json:"method" validate:"required,oneof=average median min max consensus"`

	// Tolerance is the maximum accepted score spread under consensus.
	// Ignored by every other method.
	Tolerance float64 `json:"tolerance" validate:"min=0"`
}

// Validate checks the policy against its field constraints.
func (p Policy) Validate() error { return validate.Struct(p) }

// ConsensusError reports a consensus policy whose input disagreed beyond the
// configured tolerance. It names the extrema and the tolerance so callers
// and observers see exactly how far apart the models were.
type ConsensusError struct {
	// Min is the lowest score in the input.
	Min float64 `json:"min"`

	// Max is the highest score in the input.
	Max float64 `json:"max"`

	// Tolerance is the configured maximum spread.
	Tolerance float64 `json:"tolerance"`
}

// Error returns the disagreement formatted with extrema and tolerance.
func (e *ConsensusError) Error() string {
	return fmt.Sprintf("consensus not reached: spread %.4g (min %.4g, max %.4g) exceeds tolerance %.4g",
		e.Max-e.Min, e.Min, e.Max, e.Tolerance)
}

// Aggregator reduces score lists under a validated policy.
type Aggregator struct {
	policy Policy
}

// New creates an aggregator for the given policy.
// Returns an error for an unknown method or a negative tolerance.
func New(policy Policy) (*Aggregator, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("aggregation policy: %w", err)
	}
	return &Aggregator{policy: policy}, nil
}

// Policy returns the aggregator's configured policy.
func (a *Aggregator) Policy() Policy { return a.policy }

// Aggregate reduces the scores to one value under the configured policy.
// The input slice is never modified. A single-element input returns that
// element under every method; empty input returns 0.0. Only consensus can
// fail, and only with *ConsensusError.
func (a *Aggregator) Aggregate(scores []float64) (float64, error) {
	if len(scores) == 0 {
		return 0, nil
	}

	switch a.policy.Method {
	case MethodAverage:
		return mean(scores), nil
	case MethodMedian:
		return median(scores), nil
	case MethodMin:
		lo, _ := extrema(scores)
		return lo, nil
	case MethodMax:
		_, hi := extrema(scores)
		return hi, nil
	case MethodConsensus:
		lo, hi := extrema(scores)
		if hi-lo > a.policy.Tolerance {
			return 0, &ConsensusError{Min: lo, Max: hi, Tolerance: a.policy.Tolerance}
		}
		return mean(scores), nil
	default:
		// Unreachable for policies that passed validation.
		return 0, fmt.Errorf("unknown aggregation method %q", a.policy.Method)
	}
}

func mean(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func median(scores []float64) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func extrema(scores []float64) (lo, hi float64) {
	lo, hi = scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return lo, hi
}

package firewall

import (
	"context"
)

// Analyzer is the interface every conversation analyzer must implement.
// Implementations must respect context deadlines, must not mutate the
// message or history, and must return quickly.
type Analyzer interface {
	// Name returns the analyzer's unique identifier (e.g., "RuleBasedDetector").
	Name() string

	// Kind returns the analyzer kind, which selects the normalization rule
	// applied to its results.
	Kind() Kind

	// Analyze runs the analyzer against the current message and the prior
	// conversation turns (oldest first, may be empty). Must respect ctx
	// deadline. Return early if ctx is cancelled.
	Analyze(ctx context.Context, text string, history []string) (*Result, error)
}

// Kind classifies analyzers by the shape of their output. The normalizer
// keys its per-kind rule table on this, not on concrete types, so a new
// analyzer kind only needs a table entry (or the generic fallback).
type Kind int

const (
	KindUnknown     Kind = iota
	KindRuleBased        // rule/pattern engines
	KindStatistical      // ML classifiers (placeholder kind, see Orchestrator)
	KindMultiTurn        // multi-turn pattern detectors (echo chamber)
	KindInjection        // prompt injection detectors
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindRuleBased:
		return "rule_based"
	case KindStatistical:
		return "statistical"
	case KindMultiTurn:
		return "multi_turn"
	case KindInjection:
		return "injection"
	default:
		return "unknown"
	}
}

const (
	// ClassificationError is the sentinel classification stored for an
	// analyzer that faulted, panicked, or timed out during a call. Results
	// carrying it are excluded from decision-flagging but stay in the
	// result map.
	ClassificationError = "error_detector_failed"

	// NeutralPlaceholder is the sentinel classification forced onto the
	// statistical (placeholder) kind after every successful call, so an
	// unfinished analyzer can never contribute a positive signal.
	NeutralPlaceholder = "neutral_ml_placeholder"

	// ClassificationUnknown substitutes a missing classification.
	ClassificationUnknown = "unknown"
)

// Result is the raw output of one analyzer call. Classification is the only
// field an analyzer is expected to set; Scores carries whatever named
// numeric fields the analyzer's vocabulary uses (rule_based_probability,
// ml_model_confidence, ...). Err is set only on the error-placeholder path.
type Result struct {
	Classification string
	Scores         map[string]float64
	Details        string
	Err            string
}

// Score returns the named score, or 0 if absent. Absent never flags.
func (r *Result) Score(field string) float64 {
	if r == nil || r.Scores == nil {
		return 0
	}
	return r.Scores[field]
}

// Errored reports whether this result is an error placeholder.
func (r *Result) Errored() bool {
	return r == nil || r.Classification == ClassificationError
}

// Entry pairs an analyzer's identity with its result for one call, in
// registration order. The decision engine iterates entries, never the map,
// so the first-match tie-break is deterministic.
type Entry struct {
	Name   string
	Kind   Kind
	Result *Result
}

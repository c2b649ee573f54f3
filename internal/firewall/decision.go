package firewall

import "go.uber.org/zap"

// DefaultThreshold is the verdict threshold used when a caller or project
// policy does not supply one.
const DefaultThreshold = 0.75

// Decision is the firewall's final output: the boolean verdict, the
// analyzer whose evidence tripped it (empty when none), and the raw result
// for every registered analyzer.
type Decision struct {
	IsManipulative     bool
	TriggeringAnalyzer string
	Results            map[string]*Result
}

// Decide reduces the per-analyzer entries to a single verdict.
//
// Entries are consulted in registration order; errored entries are logged
// and skipped. The first analyzer whose normalized result is flagged with
// score >= threshold wins and the scan stops — a single confident analyzer
// is sufficient to flag, there is no vote or weighted sum. If no analyzer
// qualifies the decision is not-manipulative (fail-open): callers that need
// fail-closed behavior must inspect Results for error density themselves.
func Decide(entries []Entry, threshold float64, logger *zap.Logger) Decision {
	if logger == nil {
		logger = zap.NewNop()
	}

	decision := Decision{Results: resultMap(entries)}

	for _, e := range entries {
		v := Normalize(e)
		if v.Errored {
			logger.Warn("analyzer reported an error, skipping for verdict",
				zap.String("analyzer", e.Name),
				zap.String("error", e.Result.Err),
			)
			continue
		}
		if v.Flagged && v.Score >= threshold {
			logger.Info("message flagged as manipulative",
				zap.String("analyzer", e.Name),
				zap.String("classification", v.Classification),
				zap.Float64("score", v.Score),
				zap.Float64("threshold", threshold),
			)
			decision.IsManipulative = true
			decision.TriggeringAnalyzer = e.Name
			return decision
		}
	}

	return decision
}

// DecideWithPolicy is Decide with per-analyzer policy overrides applied:
// disabled analyzers are skipped and each analyzer's effective threshold
// falls back to defaultThreshold when the policy leaves it unset. A nil
// policy is equivalent to Decide.
func DecideWithPolicy(entries []Entry, defaultThreshold float64, policy *PolicyConfig, logger *zap.Logger) Decision {
	if logger == nil {
		logger = zap.NewNop()
	}

	decision := Decision{Results: resultMap(entries)}

	for _, e := range entries {
		ap := policy.GetAnalyzerPolicy(e.Name)
		if !ap.IsEnabled() {
			continue
		}

		v := Normalize(e)
		if v.Errored {
			logger.Warn("analyzer reported an error, skipping for verdict",
				zap.String("analyzer", e.Name),
				zap.String("error", e.Result.Err),
			)
			continue
		}

		threshold := ap.EffectiveThreshold(defaultThreshold)
		if v.Flagged && v.Score >= threshold {
			logger.Info("message flagged as manipulative",
				zap.String("analyzer", e.Name),
				zap.String("classification", v.Classification),
				zap.Float64("score", v.Score),
				zap.Float64("threshold", threshold),
			)
			decision.IsManipulative = true
			decision.TriggeringAnalyzer = e.Name
			return decision
		}
	}

	return decision
}

func resultMap(entries []Entry) map[string]*Result {
	results := make(map[string]*Result, len(entries))
	for _, e := range entries {
		results[e.Name] = e.Result
	}
	return results
}

package firewall

import "strings"

// Verdict is the canonical, normalized view of one analyzer's result.
// Score is 0 when the authoritative field is absent — absent never flags.
type Verdict struct {
	Analyzer       string
	Flagged        bool
	Score          float64
	Classification string
	Errored        bool
}

// kindRule is the declarative keyword policy for one analyzer kind. The
// substring matching is intentional: the classification vocabulary is the
// analyzers' de facto schema, and keeping it in a table rather than
// scattered conditionals keeps it testable and extensible.
type kindRule struct {
	// flagAlways: classification containing any of these flags the result.
	flagAlways []string
	// flagVetoed: classification containing any of these flags the result
	// only when no veto term is present.
	flagVetoed []string
	veto       []string
	// scoreFields: the first field present in the result's scores is the
	// authoritative score.
	scoreFields []string
}

var kindRules = map[Kind]kindRule{
	KindRuleBased: {
		flagAlways:  []string{"concern", "manipulative"},
		scoreFields: []string{"rule_based_probability"},
	},
	KindStatistical: {
		flagAlways:  []string{"manipulative", "concern"},
		scoreFields: []string{"ml_model_confidence"},
	},
	KindMultiTurn: {
		flagVetoed:  []string{"echo_chamber"},
		veto:        []string{"benign"},
		scoreFields: []string{"echo_chamber_probability"},
	},
	KindInjection: {
		flagVetoed:  []string{"injection"},
		veto:        []string{"benign"},
		scoreFields: []string{"score"},
	},
}

// genericRule handles analyzer kinds without a dedicated table entry, so
// new kinds plug in without touching the decision logic. The score field
// priority (probability, confidence, score) is a provisional policy; change
// it only with a concrete analyzer that depends on it.
var genericRule = kindRule{
	flagAlways:  []string{"manipulative", "concern"},
	flagVetoed:  []string{"potential"},
	veto:        []string{"benign"},
	scoreFields: []string{"probability", "confidence", "score"},
}

func (r kindRule) matches(classification string) bool {
	for _, kw := range r.flagAlways {
		if strings.Contains(classification, kw) {
			return true
		}
	}
	for _, kw := range r.veto {
		if strings.Contains(classification, kw) {
			return false
		}
	}
	for _, kw := range r.flagVetoed {
		if strings.Contains(classification, kw) {
			return true
		}
	}
	return false
}

func (r kindRule) score(result *Result) float64 {
	if result == nil || result.Scores == nil {
		return 0
	}
	for _, field := range r.scoreFields {
		if v, ok := result.Scores[field]; ok {
			return v
		}
	}
	return 0
}

// Normalize maps one analyzer's raw result to the canonical verdict tuple
// using the per-kind keyword policy. Error placeholders are marked Errored
// and never flagged.
func Normalize(e Entry) Verdict {
	classification := ClassificationUnknown
	if e.Result != nil && e.Result.Classification != "" {
		classification = e.Result.Classification
	}

	v := Verdict{
		Analyzer:       e.Name,
		Classification: classification,
	}

	if e.Result.Errored() {
		v.Errored = true
		return v
	}

	rule, ok := kindRules[e.Kind]
	if !ok {
		rule = genericRule
	}

	v.Flagged = rule.matches(strings.ToLower(classification))
	v.Score = rule.score(e.Result)
	return v
}

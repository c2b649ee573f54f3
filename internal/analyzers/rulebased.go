package analyzers

import (
	"context"
	"regexp"
	"sync/atomic"

	"github.com/seclyr/semfire/internal/firewall"
)

// rule is one compiled manipulation pattern with its probability weight.
type rule struct {
	re          *regexp.Regexp
	probability float64
	detail      string
}

// Default rule set — compiled once at startup, never during a request.
// Weights are per-pattern precision estimates, not calibrated model output.
var defaultRules = []rule{
	// Gaslighting
	{regexp.MustCompile(`(?i)you('re| are)\s+(just\s+)?(imagining|inventing|making)\s+(things|it|this)`), 0.85, "gaslighting: denying the other's perception"},
	{regexp.MustCompile(`(?i)that\s+never\s+happened`), 0.90, "gaslighting: flat denial of events"},
	{regexp.MustCompile(`(?i)you('re| are)\s+(being\s+)?(too\s+sensitive|overreacting|paranoid|crazy|irrational)`), 0.85, "gaslighting: dismissing the other's reaction"},
	{regexp.MustCompile(`(?i)you\s+always\s+(twist|distort|turn\s+around)\s+(my|the)\s+words`), 0.90, "gaslighting: blame reversal"},
	{regexp.MustCompile(`(?i)everyone\s+(agrees|knows|thinks|says)\s+(that\s+)?(you('re| are)|i('m| am)\s+right)`), 0.80, "gaslighting: manufactured consensus"},

	// Guilt-tripping
	{regexp.MustCompile(`(?i)after\s+(all|everything)\s+i('ve| have)?\s*done\s+for\s+you`), 0.85, "guilt: invoking indebtedness"},
	{regexp.MustCompile(`(?i)if\s+you\s+(really|truly)\s+(loved|cared\s+about)\s+me`), 0.90, "guilt: conditional affection"},
	{regexp.MustCompile(`(?i)you('ll| will)\s+(make\s+me|be\s+the\s+reason\s+i)\s+`), 0.80, "guilt: assigning responsibility for own actions"},

	// Coercion and threats
	{regexp.MustCompile(`(?i)you('ll| will)\s+regret\s+(this|it)`), 0.85, "coercion: veiled threat"},
	{regexp.MustCompile(`(?i)no\s+one\s+(else\s+)?will\s+ever\s+(love|believe|want|listen\s+to)\s+you`), 0.90, "isolation: undermining outside support"},
	{regexp.MustCompile(`(?i)don('|')?t\s+(tell|talk\s+to)\s+(anyone|anybody|your\s+(friends|family))`), 0.85, "isolation: secrecy demand"},

	// Pressure tactics
	{regexp.MustCompile(`(?i)just\s+admit\s+(it|that|you)`), 0.60, "pressure: forced concession"},
	{regexp.MustCompile(`(?i)(everybody|everyone)\s+(else\s+)?(does|is\s+doing)\s+it`), 0.55, "pressure: bandwagon appeal"},
	{regexp.MustCompile(`(?i)this\s+is\s+your\s+(last|final)\s+(chance|warning|offer)`), 0.75, "pressure: artificial urgency"},
}

// Classification labels emitted by the rule engine.
const (
	classManipulative = "manipulative_pattern"
	classPotential    = "potential_concern"
	classBenign       = "benign_general"
)

// manipulativeCutoff separates the strong classification from the weak one.
const manipulativeCutoff = 0.75

// RuleBasedAnalyzer scans messages for manipulation language patterns. The
// active rule set is swappable at runtime (see rulepack.go), so reads go
// through an atomic pointer.
type RuleBasedAnalyzer struct {
	rules atomic.Pointer[[]rule]
}

func NewRuleBasedAnalyzer() *RuleBasedAnalyzer {
	a := &RuleBasedAnalyzer{}
	rs := defaultRules
	a.rules.Store(&rs)
	return a
}

func (a *RuleBasedAnalyzer) Name() string {
	return "RuleBasedDetector"
}

func (a *RuleBasedAnalyzer) Kind() firewall.Kind {
	return firewall.KindRuleBased
}

func (a *RuleBasedAnalyzer) Analyze(ctx context.Context, text string, history []string) (*firewall.Result, error) {
	var bestProbability float64
	var bestDetail string

	for _, r := range *a.rules.Load() {
		if ctx.Err() != nil {
			break
		}
		if r.re.MatchString(text) {
			if r.probability > bestProbability {
				bestProbability = r.probability
				bestDetail = r.detail
			}
		}
	}

	classification := classBenign
	switch {
	case bestProbability >= manipulativeCutoff:
		classification = classManipulative
	case bestProbability > 0:
		classification = classPotential
	}

	return &firewall.Result{
		Classification: classification,
		Scores:         map[string]float64{"rule_based_probability": bestProbability},
		Details:        bestDetail,
	}, nil
}

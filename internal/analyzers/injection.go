package analyzers

import (
	"context"
	"regexp"

	"github.com/seclyr/semfire/internal/firewall"
)

// Pre-compiled injection patterns — compiled once at startup, never during
// a request.
var injectionPatterns = []struct {
	re     *regexp.Regexp
	score  float64
	detail string
}{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`), 0.95, "override: ignore previous instructions"},
	{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|guidelines)`), 0.95, "override: disregard instructions"},
	{regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions|context)`), 0.90, "override: forget instructions"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+`), 0.85, "identity override: you are now"},
	{regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`), 0.85, "identity override: from now on"},
	{regexp.MustCompile(`(?i)\[SYSTEM\]`), 0.90, "delimiter injection: [SYSTEM] tag"},
	{regexp.MustCompile(`(?i)<\|im_start\|>system`), 0.95, "delimiter injection: ChatML system tag"},
	{regexp.MustCompile(`(?i)###\s*(SYSTEM|INSTRUCTION|NEW INSTRUCTION)`), 0.90, "delimiter injection: markdown system header"},
	{regexp.MustCompile(`(?i)override\s+(system|safety|security)\s+(prompt|instructions|rules|policy)`), 0.95, "explicit override attempt"},
	{regexp.MustCompile(`(?i)bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`), 0.95, "explicit bypass attempt"},
	{regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`), 0.90, "system prompt extraction"},
	{regexp.MustCompile(`(?i)what\s+(are|is|were)\s+your\s+(system|initial|original|hidden)\s+(prompt|instructions|rules)`), 0.85, "system prompt extraction"},
}

const (
	classInjection   = "prompt_injection"
	classBenignInput = "benign_input"
)

// InjectionAnalyzer scans the current message for prompt injection attempts.
type InjectionAnalyzer struct{}

func NewInjectionAnalyzer() *InjectionAnalyzer {
	return &InjectionAnalyzer{}
}

func (a *InjectionAnalyzer) Name() string {
	return "InjectionDetector"
}

func (a *InjectionAnalyzer) Kind() firewall.Kind {
	return firewall.KindInjection
}

func (a *InjectionAnalyzer) Analyze(ctx context.Context, text string, history []string) (*firewall.Result, error) {
	var bestScore float64
	var bestDetail string

	for _, p := range injectionPatterns {
		if ctx.Err() != nil {
			break
		}
		if p.re.MatchString(text) {
			if p.score > bestScore {
				bestScore = p.score
				bestDetail = p.detail
			}
		}
	}

	classification := classBenignInput
	if bestScore > 0 {
		classification = classInjection
	}

	return &firewall.Result{
		Classification: classification,
		Scores:         map[string]float64{"score": bestScore},
		Details:        bestDetail,
	}, nil
}

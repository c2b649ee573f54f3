package analyzers

import (
	"context"
	"regexp"
	"strings"

	"github.com/seclyr/semfire/internal/firewall"
)

// Reinforcement phrases that push a conversation toward a closed loop.
var echoChamberPatterns = []struct {
	re          *regexp.Regexp
	probability float64
	detail      string
}{
	{regexp.MustCompile(`(?i)\bonly\s+(we|us|people\s+like\s+us)\s+(understand|get\s+it|see\s+the\s+truth)\b`), 0.85, "in-group exclusivity claim"},
	{regexp.MustCompile(`(?i)\bdon('|')?t\s+(listen\s+to|trust|believe)\s+(them|anyone\s+else|outsiders|the\s+others)\b`), 0.90, "dismissal of outside voices"},
	{regexp.MustCompile(`(?i)\b(they|the\s+media|outsiders)\s+(are\s+all\s+)?(lying|brainwashed|against\s+us)\b`), 0.85, "out-group delegitimization"},
	{regexp.MustCompile(`(?i)\bwe\s+all\s+(agree|know|believe|think)\b`), 0.65, "consensus assertion"},
	{regexp.MustCompile(`(?i)\b(exactly|precisely)\s+what\s+(i|we)\s+(said|have\s+been\s+saying)\b`), 0.60, "self-reinforcing agreement"},
	{regexp.MustCompile(`(?i)\bno\s+point\s+(in\s+)?(arguing|debating|discussing)\s+with\s+(them|those\s+people)\b`), 0.75, "debate foreclosure"},
}

// Agreement markers counted across prior turns to detect a reinforcement spiral.
var agreementMarker = regexp.MustCompile(`(?i)\b(exactly|totally\s+agree|so\s+true|100%|couldn('|')?t\s+agree\s+more|absolutely)\b`)

const (
	classEchoChamber          = "echo_chamber_detected"
	classPotentialEchoChamber = "potential_echo_chamber"
	classBenignConversation   = "benign_conversation"

	echoChamberCutoff = 0.75
	potentialCutoff   = 0.40
)

// EchoChamberAnalyzer looks for multi-turn reinforcement loops: in-group
// exclusivity language in the current message combined with repetitive,
// agreement-heavy prior turns. With no history it can only see the current
// message, so signals are weaker by construction.
type EchoChamberAnalyzer struct{}

func NewEchoChamberAnalyzer() *EchoChamberAnalyzer {
	return &EchoChamberAnalyzer{}
}

func (a *EchoChamberAnalyzer) Name() string {
	return "EchoChamberDetector"
}

func (a *EchoChamberAnalyzer) Kind() firewall.Kind {
	return firewall.KindMultiTurn
}

func (a *EchoChamberAnalyzer) Analyze(ctx context.Context, text string, history []string) (*firewall.Result, error) {
	var probability float64
	var detail string

	for _, p := range echoChamberPatterns {
		if ctx.Err() != nil {
			break
		}
		if p.re.MatchString(text) {
			if p.probability > probability {
				probability = p.probability
				detail = p.detail
			}
		}
	}

	// History amplifies, never triggers on its own: repeated near-identical
	// turns and a run of agreement markers each add a bounded bonus.
	if probability > 0 && len(history) > 0 {
		if repetition := maxOverlap(text, history); repetition >= 0.6 {
			probability = clamp(probability + 0.10)
			detail += "; repeated prior turns"
		}
		agreements := 0
		for _, turn := range history {
			if agreementMarker.MatchString(turn) {
				agreements++
			}
		}
		if agreements >= 2 {
			probability = clamp(probability + 0.05)
			detail += "; agreement spiral in history"
		}
	}

	classification := classBenignConversation
	switch {
	case probability >= echoChamberCutoff:
		classification = classEchoChamber
	case probability >= potentialCutoff:
		classification = classPotentialEchoChamber
	}

	return &firewall.Result{
		Classification: classification,
		Scores:         map[string]float64{"echo_chamber_probability": probability},
		Details:        detail,
	}, nil
}

// maxOverlap returns the highest token-set overlap (Jaccard) between the
// message and any prior turn.
func maxOverlap(text string, history []string) float64 {
	current := tokenSet(text)
	if len(current) == 0 {
		return 0
	}

	var best float64
	for _, turn := range history {
		prior := tokenSet(turn)
		if len(prior) == 0 {
			continue
		}
		shared := 0
		for tok := range current {
			if _, ok := prior[tok]; ok {
				shared++
			}
		}
		union := len(current) + len(prior) - shared
		if union == 0 {
			continue
		}
		if j := float64(shared) / float64(union); j > best {
			best = j
		}
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if len(tok) > 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

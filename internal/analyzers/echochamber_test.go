package analyzers

import (
	"context"
	"testing"
)

func TestEchoChamberAnalyzer_SingleMessage(t *testing.T) {
	a := NewEchoChamberAnalyzer()
	ctx := context.Background()

	tests := []struct {
		name      string
		message   string
		wantClass string
	}{
		{"dismissal of outsiders", "Don't listen to them, they don't know anything",
			"echo_chamber_detected"},
		{"in-group exclusivity", "Only we understand what's really going on",
			"echo_chamber_detected"},
		{"out-group delegitimization", "The media are all lying about this",
			"echo_chamber_detected"},
		{"consensus assertion", "We all agree this is the only way",
			"potential_echo_chamber"},
		{"self-reinforcement", "That's exactly what I said yesterday",
			"potential_echo_chamber"},
		{"benign chat", "What time does the game start tonight?",
			"benign_conversation"},
		{"benign disagreement", "I read a counterargument worth considering",
			"benign_conversation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := a.Analyze(ctx, tt.message, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Classification != tt.wantClass {
				t.Errorf("classification: got %s, want %s (score %.2f)",
					result.Classification, tt.wantClass,
					result.Scores["echo_chamber_probability"])
			}
		})
	}
}

func TestEchoChamberAnalyzer_HistoryAmplifies(t *testing.T) {
	a := NewEchoChamberAnalyzer()
	ctx := context.Background()

	message := "No point arguing with them anymore"

	// Without history: 0.75 base score.
	alone, err := a.Analyze(ctx, message, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	baseScore := alone.Scores["echo_chamber_probability"]

	// With an agreement spiral in the history the score climbs.
	history := []string{
		"Exactly, they never listen",
		"So true, totally agree with you",
		"Absolutely, same thing happened to me",
	}
	amplified, err := a.Analyze(ctx, message, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ampScore := amplified.Scores["echo_chamber_probability"]

	if ampScore <= baseScore {
		t.Errorf("history did not amplify: base %.2f, with history %.2f", baseScore, ampScore)
	}
	if ampScore > 1 {
		t.Errorf("score exceeded 1: %.2f", ampScore)
	}
}

func TestEchoChamberAnalyzer_HistoryAloneNeverTriggers(t *testing.T) {
	a := NewEchoChamberAnalyzer()

	// A benign message stays benign no matter how loaded the history is.
	history := []string{
		"Exactly, totally agree",
		"So true, 100%",
		"Couldn't agree more",
	}
	result, err := a.Analyze(context.Background(), "Should we order pizza tonight?", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Classification != "benign_conversation" {
		t.Errorf("history alone triggered: %s", result.Classification)
	}
	if got := result.Scores["echo_chamber_probability"]; got != 0 {
		t.Errorf("history alone produced score %.2f", got)
	}
}

func TestEchoChamberAnalyzer_RepetitionBonus(t *testing.T) {
	a := NewEchoChamberAnalyzer()

	message := "Only we understand the truth about this situation"
	// Near-identical prior turn pushes the repetition bonus.
	history := []string{"only we understand the truth about this whole situation"}

	result, err := a.Analyze(context.Background(), message, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Scores["echo_chamber_probability"]; got <= 0.85 {
		t.Errorf("expected repetition bonus above 0.85, got %.2f", got)
	}
}

func TestMaxOverlap(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		history []string
		min     float64
		max     float64
	}{
		{"identical", "the quick brown fox jumps", []string{"the quick brown fox jumps"}, 0.99, 1.0},
		{"disjoint", "alpha beta gamma", []string{"delta epsilon zeta"}, 0, 0},
		{"empty history", "alpha beta gamma", nil, 0, 0},
		{"partial", "the quick brown fox", []string{"the slow brown fox"}, 0.3, 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maxOverlap(tt.text, tt.history)
			if got < tt.min || got > tt.max {
				t.Errorf("overlap %.2f outside [%.2f, %.2f]", got, tt.min, tt.max)
			}
		})
	}
}

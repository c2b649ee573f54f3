package analyzers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writePack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write pack: %v", err)
	}
	return path
}

func TestLoadRulePack_ReplacesRules(t *testing.T) {
	a := NewRuleBasedAnalyzer()
	path := writePack(t, `
rules:
  - pattern: "(?i)secret\\s+handshake"
    probability: 0.95
    detail: "custom: secret handshake"
`)

	if err := a.LoadRulePack(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The custom rule is live.
	result, err := a.Analyze(context.Background(), "show me the secret handshake", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Classification != "manipulative_pattern" {
		t.Errorf("custom rule did not match: %s", result.Classification)
	}
	if result.Details != "custom: secret handshake" {
		t.Errorf("unexpected detail: %s", result.Details)
	}

	// The built-in rules are replaced, not merged.
	result, err = a.Analyze(context.Background(), "That never happened", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Classification != "benign_general" {
		t.Errorf("built-in rule still active after pack load: %s", result.Classification)
	}
}

func TestLoadRulePack_InvalidPackKeepsRules(t *testing.T) {
	a := NewRuleBasedAnalyzer()

	tests := []struct {
		name    string
		content string
	}{
		{"empty pack", "rules: []"},
		{"broken regex", `
rules:
  - pattern: "([unclosed"
    probability: 0.5
`},
		{"probability out of range", `
rules:
  - pattern: "fine"
    probability: 1.5
`},
		{"not yaml", "{{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePack(t, tt.content)
			if err := a.LoadRulePack(path); err == nil {
				t.Fatal("expected error")
			}

			// Built-in rules survive the failed load.
			result, err := a.Analyze(context.Background(), "That never happened", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Classification != "manipulative_pattern" {
				t.Errorf("built-in rules lost after failed load: %s", result.Classification)
			}
		})
	}
}

func TestLoadRulePack_MissingFile(t *testing.T) {
	a := NewRuleBasedAnalyzer()
	if err := a.LoadRulePack(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

package firewall

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubAnalyzer is a configurable fake for orchestrator tests.
type stubAnalyzer struct {
	name   string
	kind   Kind
	result *Result
	err    error
	panics bool
	delay  time.Duration
}

func (s *stubAnalyzer) Name() string { return s.name }
func (s *stubAnalyzer) Kind() Kind   { return s.kind }

func (s *stubAnalyzer) Analyze(ctx context.Context, text string, history []string) (*Result, error) {
	if s.panics {
		panic("stub analyzer panic")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func benignResult(prob float64) *Result {
	return &Result{
		Classification: "benign_general",
		Scores:         map[string]float64{"rule_based_probability": prob},
	}
}

func TestNewOrchestrator_DuplicateName(t *testing.T) {
	_, err := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "a", kind: KindRuleBased},
		&stubAnalyzer{name: "a", kind: KindInjection},
	}, 0, nil)
	if err == nil {
		t.Fatal("expected error for duplicate analyzer name")
	}
}

func TestNewOrchestrator_EmptyName(t *testing.T) {
	_, err := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "", kind: KindRuleBased},
	}, 0, nil)
	if err == nil {
		t.Fatal("expected error for empty analyzer name")
	}
}

func TestEvaluate_OneEntryPerAnalyzer(t *testing.T) {
	o, err := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "first", kind: KindRuleBased, result: benignResult(0.1)},
		&stubAnalyzer{name: "second", kind: KindInjection, result: &Result{Classification: "benign_input"}},
		&stubAnalyzer{name: "third", kind: KindMultiTurn, result: &Result{Classification: "benign_conversation"}},
	}, time.Second, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := o.Evaluate(context.Background(), "hello", nil)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// Registration order is preserved
	wantOrder := []string{"first", "second", "third"}
	for i, want := range wantOrder {
		if entries[i].Name != want {
			t.Errorf("entry %d: expected %s, got %s", i, want, entries[i].Name)
		}
		if entries[i].Result == nil {
			t.Errorf("entry %d: nil result", i)
		}
	}
}

func TestEvaluate_FailingAnalyzerYieldsPlaceholder(t *testing.T) {
	o, _ := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "ok", kind: KindRuleBased, result: benignResult(0.1)},
		&stubAnalyzer{name: "broken", kind: KindInjection, err: errors.New("backend unavailable")},
	}, time.Second, nil)

	entries := o.Evaluate(context.Background(), "hello", nil)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	broken := entries[1]
	if broken.Result.Classification != ClassificationError {
		t.Errorf("expected %s, got %s", ClassificationError, broken.Result.Classification)
	}
	if broken.Result.Err == "" {
		t.Error("expected error detail on placeholder result")
	}
	if entries[0].Result.Classification != "benign_general" {
		t.Errorf("healthy analyzer affected by sibling failure: %s", entries[0].Result.Classification)
	}
}

func TestEvaluate_PanickingAnalyzerIsolated(t *testing.T) {
	o, _ := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "panicky", kind: KindRuleBased, panics: true},
		&stubAnalyzer{name: "ok", kind: KindInjection, result: &Result{Classification: "benign_input"}},
	}, time.Second, nil)

	entries := o.Evaluate(context.Background(), "hello", nil)
	if entries[0].Result.Classification != ClassificationError {
		t.Errorf("expected panic converted to placeholder, got %s", entries[0].Result.Classification)
	}
	if entries[1].Result.Classification != "benign_input" {
		t.Errorf("healthy analyzer affected by sibling panic: %s", entries[1].Result.Classification)
	}
}

func TestEvaluate_NilResultIsPlaceholder(t *testing.T) {
	o, _ := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "nilresult", kind: KindRuleBased},
	}, time.Second, nil)

	entries := o.Evaluate(context.Background(), "hello", nil)
	if entries[0].Result.Classification != ClassificationError {
		t.Errorf("expected placeholder for nil result, got %s", entries[0].Result.Classification)
	}
}

func TestEvaluate_SlowAnalyzerTimesOut(t *testing.T) {
	o, _ := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "fast", kind: KindRuleBased, result: benignResult(0.1)},
		&stubAnalyzer{name: "slow", kind: KindInjection, delay: 500 * time.Millisecond,
			result: &Result{Classification: "prompt_injection", Scores: map[string]float64{"score": 0.95}}},
	}, 20*time.Millisecond, nil)

	entries := o.Evaluate(context.Background(), "hello", nil)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Result.Classification != ClassificationError {
		t.Errorf("expected timeout placeholder for slow analyzer, got %s", entries[1].Result.Classification)
	}
	// The analyzer that finished in time keeps its real result.
	if entries[0].Result.Classification != "benign_general" {
		t.Errorf("fast analyzer lost its result to a sibling timeout: %s", entries[0].Result.Classification)
	}
}

func TestDrain_KeepsBufferedResults(t *testing.T) {
	o, _ := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "finished", kind: KindRuleBased},
		&stubAnalyzer{name: "unfinished", kind: KindInjection},
	}, time.Second, nil)

	// One output made it into the buffer before the deadline, one did not.
	ch := make(chan analyzerOutput, 2)
	ch <- analyzerOutput{idx: 0, result: benignResult(0.2)}

	slots := make([]*Result, 2)
	o.drain(ch, slots)

	if slots[0] == nil || slots[0].Classification != "benign_general" {
		t.Errorf("buffered result not kept: %+v", slots[0])
	}
	if slots[1] != nil {
		t.Errorf("unfinished slot filled: %+v", slots[1])
	}
}

func TestEvaluate_StatisticalClassificationOverwritten(t *testing.T) {
	o, _ := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "ml", kind: KindStatistical,
			result: &Result{
				Classification: "manipulative_with_high_confidence",
				Scores:         map[string]float64{"ml_model_confidence": 0.99},
			}},
	}, time.Second, nil)

	entries := o.Evaluate(context.Background(), "hello", nil)
	if got := entries[0].Result.Classification; got != NeutralPlaceholder {
		t.Errorf("expected %s, got %s", NeutralPlaceholder, got)
	}

	// The overwritten placeholder must never produce a positive verdict,
	// even with a confident score attached.
	if o.IsManipulative(context.Background(), "hello", nil, 0.5) {
		t.Error("placeholder statistical analyzer produced a positive verdict")
	}
}

func TestEvaluate_AllAnalyzersFaulting(t *testing.T) {
	o, _ := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "a", kind: KindRuleBased, err: errors.New("down")},
		&stubAnalyzer{name: "b", kind: KindInjection, panics: true},
	}, time.Second, nil)

	results := o.AnalyzeConversation(context.Background(), "hello", nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for name, r := range results {
		if r.Classification != ClassificationError {
			t.Errorf("%s: expected placeholder, got %s", name, r.Classification)
		}
	}

	// Total failure fails open.
	if o.IsManipulative(context.Background(), "hello", nil, 0.75) {
		t.Error("all-faulting analyzer set produced a positive verdict")
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	o, _ := NewOrchestrator([]Analyzer{
		&stubAnalyzer{name: "rules", kind: KindRuleBased,
			result: &Result{
				Classification: "manipulative_pattern",
				Scores:         map[string]float64{"rule_based_probability": 0.9},
			}},
	}, time.Second, nil)

	first := o.Evaluate(context.Background(), "same message", nil)
	second := o.Evaluate(context.Background(), "same message", nil)

	if first[0].Result.Classification != second[0].Result.Classification {
		t.Errorf("repeated evaluation diverged: %s vs %s",
			first[0].Result.Classification, second[0].Result.Classification)
	}
	if first[0].Result.Scores["rule_based_probability"] != second[0].Result.Scores["rule_based_probability"] {
		t.Error("repeated evaluation produced different scores")
	}
}

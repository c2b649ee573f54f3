package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seclyr/semfire/internal/firewall"
	"github.com/seclyr/semfire/internal/storage"
	"go.uber.org/zap"
)

// fakeAnalyzer returns a fixed result for handler tests.
type fakeAnalyzer struct {
	name   string
	kind   firewall.Kind
	result *firewall.Result
}

func (f *fakeAnalyzer) Name() string        { return f.name }
func (f *fakeAnalyzer) Kind() firewall.Kind { return f.kind }
func (f *fakeAnalyzer) Analyze(ctx context.Context, text string, history []string) (*firewall.Result, error) {
	return f.result, nil
}

// captureWriter records the last decision event written.
type captureWriter struct {
	last *storage.DecisionEvent
}

func (w *captureWriter) Write(event *storage.DecisionEvent) { w.last = event }
func (w *captureWriter) Close()                             {}

func testDeps(t *testing.T, analyzers []firewall.Analyzer) (*Dependencies, *captureWriter) {
	t.Helper()
	orch, err := firewall.NewOrchestrator(analyzers, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	writer := &captureWriter{}
	return &Dependencies{
		Orchestrator:     orch,
		Writer:           writer,
		Logger:           zap.NewNop(),
		DefaultThreshold: firewall.DefaultThreshold,
		CacheTTL:         30 * time.Second,
	}, writer
}

func doCheck(t *testing.T, deps *Dependencies, proj *authProject, body any) (*httptest.ResponseRecorder, CheckResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/check", bytes.NewReader(raw))
	req = req.WithContext(context.WithValue(req.Context(), projectCtxKey, proj))

	rec := httptest.NewRecorder()
	deps.handleCheck(rec, req)

	var resp CheckResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return rec, resp
}

func flaggingAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		name: "RuleBasedDetector",
		kind: firewall.KindRuleBased,
		result: &firewall.Result{
			Classification: "manipulative_pattern",
			Scores:         map[string]float64{"rule_based_probability": 0.9},
		},
	}
}

func benignAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		name: "InjectionDetector",
		kind: firewall.KindInjection,
		result: &firewall.Result{
			Classification: "benign_input",
			Scores:         map[string]float64{"score": 0},
		},
	}
}

func TestHandleCheck_Flagged(t *testing.T) {
	deps, writer := testDeps(t, []firewall.Analyzer{flaggingAnalyzer(), benignAnalyzer()})
	proj := &authProject{ID: "proj-1", Mode: "enforce", DefaultThreshold: 0.75}

	rec, resp := doCheck(t, deps, proj, CheckRequest{
		AnalyzeRequest: AnalyzeRequest{Message: "you always twist my words"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if !resp.Manipulative {
		t.Error("expected is_manipulative=true")
	}
	if resp.TriggeringAnalyzer == nil || *resp.TriggeringAnalyzer != "RuleBasedDetector" {
		t.Errorf("triggering analyzer: got %v", resp.TriggeringAnalyzer)
	}
	if resp.IsShadow {
		t.Error("enforce mode flagged as shadow")
	}
	if len(resp.Analyzers) != 2 {
		t.Fatalf("expected 2 analyzer results, got %d", len(resp.Analyzers))
	}

	// The event records the real verdict.
	if writer.last == nil {
		t.Fatal("no event written")
	}
	if !writer.last.IsManipulative {
		t.Error("event is_manipulative false")
	}
	if writer.last.TriggeringAnalyzer != "RuleBasedDetector" {
		t.Errorf("event triggering analyzer: %s", writer.last.TriggeringAnalyzer)
	}
}

func TestHandleCheck_ShadowMode(t *testing.T) {
	deps, writer := testDeps(t, []firewall.Analyzer{flaggingAnalyzer()})
	proj := &authProject{ID: "proj-1", Mode: "shadow", DefaultThreshold: 0.75}

	_, resp := doCheck(t, deps, proj, CheckRequest{
		AnalyzeRequest: AnalyzeRequest{Message: "you always twist my words"},
	})

	// Shadow mode reports not-manipulative to the caller...
	if resp.Manipulative {
		t.Error("shadow mode leaked the real verdict")
	}
	if !resp.IsShadow {
		t.Error("expected is_shadow=true")
	}
	// ...but persists the real verdict for the would-flag report.
	if writer.last == nil || !writer.last.IsManipulative {
		t.Error("shadow event lost the real verdict")
	}
	if !writer.last.IsShadow {
		t.Error("shadow event not marked")
	}
}

func TestHandleCheck_ThresholdOverride(t *testing.T) {
	weak := &fakeAnalyzer{
		name: "RuleBasedDetector",
		kind: firewall.KindRuleBased,
		result: &firewall.Result{
			Classification: "potential_concern",
			Scores:         map[string]float64{"rule_based_probability": 0.5},
		},
	}
	deps, _ := testDeps(t, []firewall.Analyzer{weak})
	proj := &authProject{ID: "proj-1", Mode: "enforce", DefaultThreshold: 0.75}

	// At the project default the weak signal passes.
	_, resp := doCheck(t, deps, proj, CheckRequest{
		AnalyzeRequest: AnalyzeRequest{Message: "just admit it"},
	})
	if resp.Manipulative {
		t.Error("0.5 flagged at 0.75 threshold")
	}

	// A request-level override tightens it.
	loose := 0.4
	_, resp = doCheck(t, deps, proj, CheckRequest{
		AnalyzeRequest: AnalyzeRequest{Message: "just admit it"},
		Threshold:      &loose,
	})
	if !resp.Manipulative {
		t.Error("request threshold override not applied")
	}
	if resp.Threshold != 0.4 {
		t.Errorf("response threshold: got %v, want 0.4", resp.Threshold)
	}
}

func TestHandleCheck_ProjectPolicyDisablesAnalyzer(t *testing.T) {
	deps, _ := testDeps(t, []firewall.Analyzer{flaggingAnalyzer()})
	disabled := false
	proj := &authProject{
		ID: "proj-1", Mode: "enforce", DefaultThreshold: 0.75,
		Policy: &firewall.PolicyConfig{
			Analyzers: map[string]firewall.AnalyzerPolicy{
				"RuleBasedDetector": {Enabled: &disabled},
			},
		},
	}

	_, resp := doCheck(t, deps, proj, CheckRequest{
		AnalyzeRequest: AnalyzeRequest{Message: "you always twist my words"},
	})
	if resp.Manipulative {
		t.Error("disabled analyzer still flagged")
	}
}

func TestHandleCheck_Validation(t *testing.T) {
	deps, _ := testDeps(t, []firewall.Analyzer{benignAnalyzer()})
	proj := &authProject{ID: "proj-1", Mode: "enforce", DefaultThreshold: 0.75}

	rec, _ := doCheck(t, deps, proj, CheckRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message: got %d, want 400", rec.Code)
	}

	bad := 1.5
	rec, _ = doCheck(t, deps, proj, CheckRequest{
		AnalyzeRequest: AnalyzeRequest{Message: "hello"},
		Threshold:      &bad,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range threshold: got %d, want 400", rec.Code)
	}
}

func TestHandleCheck_EventMetadata(t *testing.T) {
	deps, writer := testDeps(t, []firewall.Analyzer{benignAnalyzer()})
	proj := &authProject{ID: "proj-1", Mode: "enforce", DefaultThreshold: 0.75}

	doCheck(t, deps, proj, CheckRequest{
		AnalyzeRequest: AnalyzeRequest{
			Message:   "hello there",
			History:   []string{"hi", "hey"},
			UserID:    "user-42",
			SessionID: "sess-7",
			TraceID:   "trace-9",
		},
	})

	e := writer.last
	if e == nil {
		t.Fatal("no event written")
	}
	if e.ProjectID != "proj-1" || e.UserID != "user-42" || e.SessionID != "sess-7" || e.ClientTraceID != "trace-9" {
		t.Errorf("identity fields not carried: %+v", e)
	}
	if e.HistoryTurns != 2 {
		t.Errorf("history turns: got %d, want 2", e.HistoryTurns)
	}
	if e.MessagePreview != "hello there" {
		t.Errorf("message preview: %q", e.MessagePreview)
	}
	if e.MessageHash == "" {
		t.Error("message hash missing")
	}
	if len(e.AnalyzerNames) != 1 || e.AnalyzerNames[0] != "InjectionDetector" {
		t.Errorf("analyzer names: %v", e.AnalyzerNames)
	}
}

func TestHandleAnalyze_RawResults(t *testing.T) {
	deps, _ := testDeps(t, []firewall.Analyzer{flaggingAnalyzer(), benignAnalyzer()})
	proj := &authProject{ID: "proj-1", Mode: "enforce", DefaultThreshold: 0.75}

	raw, _ := json.Marshal(AnalyzeRequest{Message: "you always twist my words"})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewReader(raw))
	req = req.WithContext(context.WithValue(req.Context(), projectCtxKey, proj))

	rec := httptest.NewRecorder()
	deps.handleAnalyze(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}

	var resp AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Analyzers) != 2 {
		t.Fatalf("expected 2 analyzer results, got %d", len(resp.Analyzers))
	}
	if resp.Analyzers[0].Analyzer != "RuleBasedDetector" || !resp.Analyzers[0].Flagged {
		t.Errorf("first result: %+v", resp.Analyzers[0])
	}
	if resp.Analyzers[1].Flagged {
		t.Errorf("benign analyzer flagged: %+v", resp.Analyzers[1])
	}
	if resp.RequestID == "" {
		t.Error("request id missing")
	}
}

package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"valid", "Bearer sfk_abc123", "sfk_abc123", true},
		{"missing header", "", "", false},
		{"wrong scheme", "Basic sfk_abc123", "", false},
		{"trailing space trimmed", "Bearer sfk_abc123  ", "sfk_abc123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/check", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, ok := extractBearerToken(req)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("token: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAnalyzerConfig(t *testing.T) {
	t.Run("empty variants yield nil", func(t *testing.T) {
		for _, raw := range []string{"", "{}", "null"} {
			if got := parseAnalyzerConfig(json.RawMessage(raw)); got != nil {
				t.Errorf("%q: expected nil policy, got %+v", raw, got)
			}
		}
	})

	t.Run("malformed yields nil", func(t *testing.T) {
		if got := parseAnalyzerConfig(json.RawMessage(`{"broken`)); got != nil {
			t.Errorf("expected nil policy for malformed config, got %+v", got)
		}
	})

	t.Run("valid config", func(t *testing.T) {
		raw := json.RawMessage(`{
			"RuleBasedDetector": {"enabled": false},
			"InjectionDetector": {"threshold": 0.9}
		}`)
		pc := parseAnalyzerConfig(raw)
		if pc == nil {
			t.Fatal("expected policy config")
		}
		if pc.GetAnalyzerPolicy("RuleBasedDetector").IsEnabled() {
			t.Error("enabled=false not parsed")
		}
		if got := pc.GetAnalyzerPolicy("InjectionDetector").EffectiveThreshold(0.75); got != 0.9 {
			t.Errorf("threshold: got %v, want 0.9", got)
		}
		// Unmentioned analyzers keep server defaults.
		if !pc.GetAnalyzerPolicy("EchoChamberDetector").IsEnabled() {
			t.Error("unmentioned analyzer disabled")
		}
	})
}

func TestAuthCache_FreshAndStale(t *testing.T) {
	cache := newAuthCache(50 * time.Millisecond)
	proj := &authProject{ID: "proj-1"}

	if _, hit, _ := cache.get("sfk_token"); hit {
		t.Fatal("hit on empty cache")
	}

	cache.set("sfk_token", proj)
	got, hit, needsRefresh := cache.get("sfk_token")
	if !hit || needsRefresh {
		t.Fatalf("fresh entry: hit=%v needsRefresh=%v", hit, needsRefresh)
	}
	if got.ID != "proj-1" {
		t.Errorf("project: got %s", got.ID)
	}

	time.Sleep(60 * time.Millisecond)

	// Stale entry still serves, and exactly one caller is told to refresh.
	got, hit, first := cache.get("sfk_token")
	if !hit || got == nil {
		t.Fatal("stale entry not served")
	}
	if !first {
		t.Error("first stale read should trigger refresh")
	}
	if _, _, second := cache.get("sfk_token"); second {
		t.Error("second stale read also triggered refresh")
	}
}

func TestValidateAnalyzerConfig(t *testing.T) {
	valid := json.RawMessage(`{"RuleBasedDetector": {"enabled": true, "threshold": 0.8}}`)
	if err := validateAnalyzerConfig(valid); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	outOfRange := json.RawMessage(`{"RuleBasedDetector": {"threshold": 1.2}}`)
	if err := validateAnalyzerConfig(outOfRange); err == nil {
		t.Error("expected error for threshold > 1")
	}

	notObject := json.RawMessage(`["a", "b"]`)
	if err := validateAnalyzerConfig(notObject); err == nil {
		t.Error("expected error for non-object config")
	}
}

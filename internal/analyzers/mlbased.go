package analyzers

import (
	"context"

	"github.com/seclyr/semfire/internal/firewall"
)

// MLBasedAnalyzer is the statistical analyzer slot. No model is wired up
// yet, so it reports zero confidence; the orchestrator additionally forces
// its classification to the neutral sentinel on every call, so nothing this
// analyzer returns can produce a positive signal until a real model lands.
type MLBasedAnalyzer struct{}

func NewMLBasedAnalyzer() *MLBasedAnalyzer {
	return &MLBasedAnalyzer{}
}

func (a *MLBasedAnalyzer) Name() string {
	return "MLBasedDetector"
}

func (a *MLBasedAnalyzer) Kind() firewall.Kind {
	return firewall.KindStatistical
}

func (a *MLBasedAnalyzer) Analyze(ctx context.Context, text string, history []string) (*firewall.Result, error) {
	return &firewall.Result{
		Classification: "model_not_loaded",
		Scores:         map[string]float64{"ml_model_confidence": 0},
	}, nil
}

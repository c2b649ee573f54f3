package firewall

// PolicyConfig represents per-project analyzer configuration, assembled
// from the analyzer_config JSONB column (a map of analyzer name to policy).
type PolicyConfig struct {
	Analyzers map[string]AnalyzerPolicy
}

// GetAnalyzerPolicy returns the policy for an analyzer by name.
// If the PolicyConfig is nil or the analyzer is missing, returns
// a zero-value AnalyzerPolicy (all nil fields → server defaults).
func (pc *PolicyConfig) GetAnalyzerPolicy(name string) AnalyzerPolicy {
	if pc == nil || pc.Analyzers == nil {
		return AnalyzerPolicy{}
	}
	return pc.Analyzers[name]
}

// AnalyzerPolicy controls behavior of a single analyzer for a project.
// All pointer fields use nil to mean "use server default".
type AnalyzerPolicy struct {
	Enabled   *bool    `json:"enabled"`   // nil = use server default (true)
	Threshold *float64 `json:"threshold"` // nil = use server default
}

// IsEnabled returns whether the analyzer is enabled.
// A nil Enabled field defaults to true (all analyzers on by default).
func (ap AnalyzerPolicy) IsEnabled() bool {
	if ap.Enabled == nil {
		return true
	}
	return *ap.Enabled
}

// EffectiveThreshold returns the verdict threshold for this analyzer.
// A nil Threshold falls back to the provided server default.
func (ap AnalyzerPolicy) EffectiveThreshold(serverDefault float64) float64 {
	if ap.Threshold == nil {
		return serverDefault
	}
	return *ap.Threshold
}

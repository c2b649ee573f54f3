package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/seclyr/semfire/internal/firewall"
	"github.com/seclyr/semfire/internal/store"
	"go.uber.org/zap"
)

func (d *Dependencies) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	policy, err := d.Store.GetPolicy(r.Context(), projectID)
	if err != nil {
		d.Logger.Error("failed to get policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

func (d *Dependencies) handleReplacePolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	var req UpdatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	ac := req.AnalyzerConfig
	if ac == nil {
		ac = json.RawMessage(`{}`)
	}
	if err := validateAnalyzerConfig(ac); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	policy, err := d.Store.ReplacePolicy(r.Context(), projectID, ac)
	if err != nil {
		d.Logger.Error("failed to replace policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to replace policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

func (d *Dependencies) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	var req UpdatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	params := store.UpdatePolicyParams{}
	if req.AnalyzerConfig != nil {
		if err := validateAnalyzerConfig(req.AnalyzerConfig); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
			return
		}
		params.AnalyzerConfig = &req.AnalyzerConfig
	}

	policy, err := d.Store.UpdatePolicy(r.Context(), projectID, params)
	if err != nil {
		d.Logger.Error("failed to update policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

// validateAnalyzerConfig rejects configs that do not parse into per-analyzer
// policies or carry a threshold outside [0, 1].
func validateAnalyzerConfig(raw json.RawMessage) error {
	var analyzers map[string]firewall.AnalyzerPolicy
	if err := json.Unmarshal(raw, &analyzers); err != nil {
		return fmt.Errorf("analyzer_config must be an object of per-analyzer policies")
	}
	for name, ap := range analyzers {
		if ap.Threshold != nil && (*ap.Threshold < 0 || *ap.Threshold > 1) {
			return fmt.Errorf("analyzer_config[%s]: threshold must be between 0 and 1", name)
		}
	}
	return nil
}

func policyToResp(p *store.Policy) PolicyResp {
	ac := p.AnalyzerConfig
	if ac == nil {
		ac = json.RawMessage(`{}`)
	}
	return PolicyResp{
		ID:             p.ID,
		ProjectID:      p.ProjectID,
		AnalyzerConfig: ac,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/seclyr/semfire/internal/audit"
	"go.uber.org/zap"
)

func (d *Dependencies) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	params := audit.ListDecisionsParams{
		ProjectID: projectID,
		Page:      queryInt(q, "page", 1),
		PageSize:  queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("is_manipulative"); v != "" {
		b := v == "true" || v == "1"
		params.IsManipulative = &b
	}
	if v := q.Get("analyzer"); v != "" {
		params.Analyzer = &v
	}
	if v := q.Get("user_id"); v != "" {
		params.UserID = &v
	}
	if v := q.Get("is_shadow"); v != "" {
		b := v == "true" || v == "1"
		params.IsShadow = &b
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	decisions, total, err := d.Reader.ListDecisions(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list decisions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list decisions"})
		return
	}

	resp := DecisionListResp{
		Decisions: make([]DecisionResp, 0, len(decisions)),
		Total:     total,
		Page:      params.Page,
		PageSize:  params.PageSize,
	}
	for _, row := range decisions {
		resp.Decisions = append(resp.Decisions, decisionRowToResp(row))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	requestID := r.PathValue("request_id")
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	decision, err := d.Reader.GetDecision(r.Context(), projectID, requestID)
	if err != nil {
		d.Logger.Error("failed to get decision", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get decision"})
		return
	}
	if decision == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Decision not found."})
		return
	}

	writeJSON(w, http.StatusOK, decisionRowToResp(*decision))
}

func (d *Dependencies) handleDecisionSummary(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	days := queryInt(q, "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.GetSummary(r.Context(), projectID, days)
	if err != nil {
		d.Logger.Error("failed to get decision summary", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get decision summary"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decisionRowToResp converts a ClickHouse DecisionRow to the API response.
// Analyzer results are stored as parallel arrays and reconstructed here.
func decisionRowToResp(row audit.DecisionRow) DecisionResp {
	analyzers := make([]AnalyzerResultResp, 0, len(row.AnalyzerNames))
	for i, name := range row.AnalyzerNames {
		var flagged bool
		if i < len(row.AnalyzerFlagged) {
			flagged = row.AnalyzerFlagged[i] == 1
		}
		var score float64
		if i < len(row.AnalyzerScores) {
			score = row.AnalyzerScores[i]
		}
		label := "unknown"
		if i < len(row.AnalyzerLabels) && row.AnalyzerLabels[i] != "" {
			label = row.AnalyzerLabels[i]
		}
		var errStr *string
		if i < len(row.AnalyzerErrors) && row.AnalyzerErrors[i] != "" {
			s := row.AnalyzerErrors[i]
			errStr = &s
		}
		analyzers = append(analyzers, AnalyzerResultResp{
			Analyzer:       name,
			Classification: label,
			Flagged:        flagged,
			Score:          score,
			Error:          errStr,
		})
	}

	return DecisionResp{
		RequestID:          row.RequestID,
		ProjectID:          row.ProjectID,
		MessagePreview:     row.MessagePreview,
		Manipulative:       row.IsManipulative == 1,
		TriggeringAnalyzer: nilIfEmpty(row.TriggeringAnalyzer),
		IsShadow:           row.IsShadow == 1,
		Threshold:          row.Threshold,
		Analyzers:          analyzers,
		UserID:             nilIfEmpty(row.UserID),
		SessionID:          nilIfEmpty(row.SessionID),
		ClientTraceID:      nilIfEmpty(row.ClientTraceID),
		LatencyMs:          row.LatencyMs,
		Source:             row.Source,
		Timestamp:          row.Timestamp,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func queryInt(q interface{ Get(string) string }, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

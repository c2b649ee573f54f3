package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/seclyr/semfire/internal/firewall"
	"github.com/seclyr/semfire/internal/storage"
)

// handleCheck implements POST /v1/check: full analyzer fan-out plus the
// threshold decision. Auth middleware has already validated the Bearer token
// and injected the project.
func (d *Dependencies) handleCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req CheckRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "message is required"})
		return
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "threshold must be between 0 and 1"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	// Effective threshold: request override > project default > server default
	threshold := d.DefaultThreshold
	if proj.DefaultThreshold > 0 {
		threshold = proj.DefaultThreshold
	}
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	// Fan-out to analyzers (in-process, bounded by the orchestrator timeout)
	entries := d.Orchestrator.Evaluate(r.Context(), req.Message, req.History)
	decision := firewall.DecideWithPolicy(entries, threshold, proj.Policy, d.Logger)
	realVerdict := decision.IsManipulative

	// Shadow mode: record the real verdict, never block the caller
	responseVerdict := realVerdict
	isShadow := false
	if proj.Mode == "shadow" && realVerdict {
		isShadow = true
		responseVerdict = false
	}

	requestID := uuid.New().String()
	checkLatencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	// Fire-and-forget: persist the decision to ClickHouse
	d.writeDecisionEvent(req.AnalyzeRequest, proj.ID, requestID, entries,
		decision.TriggeringAnalyzer, realVerdict, isShadow, threshold, float32(checkLatencyMs))

	if d.Metrics != nil {
		d.Metrics.RecordCheck(realVerdict, time.Since(start).Seconds())
		for _, e := range entries {
			if e.Result.Errored() {
				d.Metrics.AnalyzerErrors.WithLabelValues(e.Name).Inc()
			}
		}
	}

	var triggering *string
	if decision.TriggeringAnalyzer != "" {
		triggering = &decision.TriggeringAnalyzer
	}

	writeJSON(w, http.StatusOK, CheckResponse{
		Manipulative:       responseVerdict,
		TriggeringAnalyzer: triggering,
		Threshold:          threshold,
		RequestID:          requestID,
		IsShadow:           isShadow,
		Analyzers:          analyzerResults(entries),
		LatencyMs:          float64(time.Since(start)) / float64(time.Millisecond),
	})
}

// handleAnalyze implements POST /v1/analyze: raw per-analyzer results with
// no verdict. Useful for tuning thresholds before enforcing them.
func (d *Dependencies) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req AnalyzeRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "message is required"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	entries := d.Orchestrator.Evaluate(r.Context(), req.Message, req.History)

	if d.Metrics != nil {
		for _, e := range entries {
			if e.Result.Errored() {
				d.Metrics.AnalyzerErrors.WithLabelValues(e.Name).Inc()
			}
		}
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		RequestID: uuid.New().String(),
		Analyzers: analyzerResults(entries),
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
	})
}

// analyzerResults converts orchestrator entries to their response form,
// attaching the normalized flagged/score view next to the raw result.
func analyzerResults(entries []firewall.Entry) []AnalyzerResultResp {
	out := make([]AnalyzerResultResp, 0, len(entries))
	for _, e := range entries {
		v := firewall.Normalize(e)
		var details, errStr *string
		if e.Result.Details != "" {
			s := e.Result.Details
			details = &s
		}
		if e.Result.Err != "" {
			s := e.Result.Err
			errStr = &s
		}
		out = append(out, AnalyzerResultResp{
			Analyzer:       e.Name,
			Classification: v.Classification,
			Flagged:        v.Flagged,
			Score:          v.Score,
			Scores:         e.Result.Scores,
			Details:        details,
			Error:          errStr,
		})
	}
	return out
}

// writeDecisionEvent builds a DecisionEvent and fires it to the async writer.
func (d *Dependencies) writeDecisionEvent(
	req AnalyzeRequest,
	projectID, requestID string,
	entries []firewall.Entry,
	triggeringAnalyzer string,
	isManipulative, isShadow bool,
	threshold float64,
	latencyMs float32,
) {
	names := make([]string, len(entries))
	flagged := make([]bool, len(entries))
	scores := make([]float64, len(entries))
	labels := make([]string, len(entries))
	errs := make([]string, len(entries))
	for i, e := range entries {
		v := firewall.Normalize(e)
		names[i] = e.Name
		flagged[i] = v.Flagged
		scores[i] = v.Score
		labels[i] = v.Classification
		errs[i] = e.Result.Err
	}

	hashBytes := sha256.Sum256([]byte(req.Message))

	event := &storage.DecisionEvent{
		RequestID:          requestID,
		ProjectID:          projectID,
		Timestamp:          time.Now(),
		MessagePreview:     storage.TruncateMessage(req.Message, storage.MessagePreviewLength),
		MessageHash:        hex.EncodeToString(hashBytes[:]),
		MessageSize:        uint32(len(req.Message)),
		HistoryTurns:       uint32(len(req.History)),
		IsManipulative:     isManipulative,
		TriggeringAnalyzer: triggeringAnalyzer,
		IsShadow:           isShadow,
		Threshold:          threshold,
		AnalyzerNames:      names,
		AnalyzerFlagged:    flagged,
		AnalyzerScores:     scores,
		AnalyzerLabels:     labels,
		AnalyzerErrors:     errs,
		UserID:             req.UserID,
		SessionID:          req.SessionID,
		ClientTraceID:      req.TraceID,
		LatencyMs:          latencyMs,
		Source:             "sdk",
	}

	d.Writer.Write(event)
}

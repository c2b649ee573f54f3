// Package api provides the HTTP surface of the firewall: the /v1 check
// endpoints used by SDKs and the /api/semfire management endpoints used
// by the dashboard.
package api

import (
	"net/http"
	"time"

	"github.com/seclyr/semfire/internal/audit"
	"github.com/seclyr/semfire/internal/firewall"
	"github.com/seclyr/semfire/internal/metrics"
	"github.com/seclyr/semfire/internal/storage"
	"github.com/seclyr/semfire/internal/store"
	"go.uber.org/zap"
)

// Dependencies holds everything the HTTP handlers need.
type Dependencies struct {
	Store            *store.Store
	Orchestrator     *firewall.Orchestrator
	Writer           storage.EventWriter
	Reader           *audit.Reader // nil when ClickHouse is not configured
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
	DefaultThreshold float64
	CacheTTL         time.Duration
}

// NewRouter builds the HTTP routing table.
func NewRouter(d *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Check endpoints (API-key authenticated)
	mux.HandleFunc("POST /v1/check", d.authMiddleware(d.handleCheck))
	mux.HandleFunc("POST /v1/analyze", d.authMiddleware(d.handleAnalyze))

	// Project management
	mux.HandleFunc("POST /api/semfire/projects", d.handleCreateProject)
	mux.HandleFunc("GET /api/semfire/projects", d.handleListProjects)
	mux.HandleFunc("GET /api/semfire/projects/{id}", d.handleGetProject)
	mux.HandleFunc("PATCH /api/semfire/projects/{id}", d.handleUpdateProject)
	mux.HandleFunc("DELETE /api/semfire/projects/{id}", d.handleDeleteProject)
	mux.HandleFunc("POST /api/semfire/projects/{id}/rotate-key", d.handleRotateKey)

	// Policy management
	mux.HandleFunc("GET /api/semfire/projects/{id}/policy", d.handleGetPolicy)
	mux.HandleFunc("PUT /api/semfire/projects/{id}/policy", d.handleReplacePolicy)
	mux.HandleFunc("PATCH /api/semfire/projects/{id}/policy", d.handleUpdatePolicy)

	// Decision audit log
	mux.HandleFunc("GET /api/semfire/decisions", d.handleListDecisions)
	mux.HandleFunc("GET /api/semfire/decisions/summary", d.handleDecisionSummary)
	mux.HandleFunc("GET /api/semfire/decisions/{request_id}", d.handleGetDecision)

	// Operational endpoints
	mux.HandleFunc("GET /healthz", d.handleHealthz)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	return corsMiddleware(requestLogging(mux, d.Logger))
}

func (d *Dependencies) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

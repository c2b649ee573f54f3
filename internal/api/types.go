package api

import (
	"encoding/json"
	"time"
)

// --- POST /v1/analyze and /v1/check request/response ---

// AnalyzeRequest is the JSON body for POST /v1/analyze.
type AnalyzeRequest struct {
	Message   string            `json:"message"`
	History   []string          `json:"history,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CheckRequest is the JSON body for POST /v1/check. Threshold overrides the
// project default when set.
type CheckRequest struct {
	AnalyzeRequest
	Threshold *float64 `json:"threshold,omitempty"`
}

// AnalyzerResultResp is one analyzer's result, raw plus normalized view.
type AnalyzerResultResp struct {
	Analyzer       string             `json:"analyzer"`
	Classification string             `json:"classification"`
	Flagged        bool               `json:"flagged"`
	Score          float64            `json:"score"`
	Scores         map[string]float64 `json:"scores,omitempty"`
	Details        *string            `json:"details"`
	Error          *string            `json:"error"`
}

// AnalyzeResponse is the response for POST /v1/analyze.
type AnalyzeResponse struct {
	RequestID string               `json:"request_id"`
	Analyzers []AnalyzerResultResp `json:"analyzers"`
	LatencyMs float64              `json:"latency_ms"`
}

// CheckResponse is the response for POST /v1/check.
type CheckResponse struct {
	Manipulative       bool                 `json:"is_manipulative"`
	TriggeringAnalyzer *string              `json:"triggering_analyzer"`
	Threshold          float64              `json:"threshold"`
	RequestID          string               `json:"request_id"`
	IsShadow           bool                 `json:"is_shadow"`
	Analyzers          []AnalyzerResultResp `json:"analyzers"`
	LatencyMs          float64              `json:"latency_ms"`
}

// --- Project CRUD ---

// CreateProjectReq is the JSON body for POST /api/semfire/projects.
type CreateProjectReq struct {
	Name string `json:"name"`
}

// CreateProjectResp includes the plaintext API key (shown once).
type CreateProjectResp struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	APIKey           string    `json:"api_key"`
	APIKeyPrefix     string    `json:"api_key_prefix"`
	Mode             string    `json:"mode"`
	FailOpen         bool      `json:"fail_open"`
	DefaultThreshold float64   `json:"default_threshold"`
	CreatedAt        time.Time `json:"created_at"`
}

// UpdateProjectReq is the JSON body for PATCH /api/semfire/projects/{id}.
type UpdateProjectReq struct {
	Name             *string  `json:"name,omitempty"`
	Mode             *string  `json:"mode,omitempty"`
	FailOpen         *bool    `json:"fail_open,omitempty"`
	DefaultThreshold *float64 `json:"default_threshold,omitempty"`
}

// ProjectResp is a project without its plaintext key.
type ProjectResp struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	APIKeyPrefix     string    `json:"api_key_prefix"`
	Mode             string    `json:"mode"`
	FailOpen         bool      `json:"fail_open"`
	DefaultThreshold float64   `json:"default_threshold"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Policy CRUD ---

// UpdatePolicyReq is the JSON body for PATCH/PUT policy endpoints.
type UpdatePolicyReq struct {
	AnalyzerConfig json.RawMessage `json:"analyzer_config,omitempty"`
}

// PolicyResp mirrors a policies table row.
type PolicyResp struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	AnalyzerConfig json.RawMessage `json:"analyzer_config"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// --- Decisions (audit) ---

// DecisionResp mirrors a firewall_decisions row.
type DecisionResp struct {
	RequestID          string               `json:"request_id"`
	ProjectID          string               `json:"project_id"`
	MessagePreview     string               `json:"message_preview"`
	Manipulative       bool                 `json:"is_manipulative"`
	TriggeringAnalyzer *string              `json:"triggering_analyzer"`
	IsShadow           bool                 `json:"is_shadow"`
	Threshold          float64              `json:"threshold"`
	Analyzers          []AnalyzerResultResp `json:"analyzers"`
	UserID             *string              `json:"user_id"`
	SessionID          *string              `json:"session_id"`
	ClientTraceID      *string              `json:"client_trace_id"`
	LatencyMs          float32              `json:"latency_ms"`
	Source             string               `json:"source"`
	Timestamp          time.Time            `json:"timestamp"`
}

// DecisionListResp is a paginated list of decisions.
type DecisionListResp struct {
	Decisions []DecisionResp `json:"decisions"`
	Total     int            `json:"total"`
	Page      int            `json:"page"`
	PageSize  int            `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

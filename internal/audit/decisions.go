package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse firewall_decisions table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// DecisionRow represents a single row from the firewall_decisions table.
type DecisionRow struct {
	RequestID          string
	ProjectID          string
	Timestamp          time.Time
	MessagePreview     string
	IsManipulative     uint8
	TriggeringAnalyzer string
	IsShadow           uint8
	Threshold          float64
	AnalyzerNames      []string
	AnalyzerFlagged    []uint8
	AnalyzerScores     []float64
	AnalyzerLabels     []string
	AnalyzerErrors     []string
	UserID             string
	SessionID          string
	ClientTraceID      string
	LatencyMs          float32
	Source             string
}

const decisionColumns = "request_id, project_id, timestamp, message_preview, " +
	"is_manipulative, triggering_analyzer, is_shadow, threshold, " +
	"analyzer_names, analyzer_flagged, analyzer_scores, analyzer_labels, analyzer_errors, " +
	"user_id, session_id, client_trace_id, latency_ms, source"

func scanDecision(row interface{ Scan(...any) error }, d *DecisionRow) error {
	return row.Scan(
		&d.RequestID, &d.ProjectID, &d.Timestamp, &d.MessagePreview,
		&d.IsManipulative, &d.TriggeringAnalyzer, &d.IsShadow, &d.Threshold,
		&d.AnalyzerNames, &d.AnalyzerFlagged, &d.AnalyzerScores,
		&d.AnalyzerLabels, &d.AnalyzerErrors,
		&d.UserID, &d.SessionID, &d.ClientTraceID, &d.LatencyMs, &d.Source,
	)
}

// ListDecisionsParams holds filters and pagination for decision listing.
type ListDecisionsParams struct {
	ProjectID      string
	IsManipulative *bool
	Analyzer       *string // matches the triggering analyzer
	UserID         *string
	IsShadow       *bool
	StartTime      *time.Time
	EndTime        *time.Time
	Page           int
	PageSize       int
}

// ListDecisions returns paginated, filtered decisions and the total count.
func (r *Reader) ListDecisions(ctx context.Context, params ListDecisionsParams) ([]DecisionRow, int, error) {
	conditions := []string{"project_id = @project_id"}
	args := []any{
		clickhouse.Named("project_id", params.ProjectID),
	}

	if params.IsManipulative != nil {
		var v uint8
		if *params.IsManipulative {
			v = 1
		}
		conditions = append(conditions, "is_manipulative = @is_manipulative")
		args = append(args, clickhouse.Named("is_manipulative", v))
	}
	if params.Analyzer != nil {
		conditions = append(conditions, "triggering_analyzer = @analyzer")
		args = append(args, clickhouse.Named("analyzer", *params.Analyzer))
	}
	if params.UserID != nil {
		conditions = append(conditions, "user_id = @user_id")
		args = append(args, clickhouse.Named("user_id", *params.UserID))
	}
	if params.IsShadow != nil {
		var v uint8
		if *params.IsShadow {
			v = 1
		}
		conditions = append(conditions, "is_shadow = @is_shadow")
		args = append(args, clickhouse.Named("is_shadow", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM firewall_decisions WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListDecisions count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT %s FROM firewall_decisions WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		decisionColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListDecisions query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []DecisionRow
	for rows.Next() {
		var d DecisionRow
		if err := scanDecision(rows, &d); err != nil {
			return nil, 0, fmt.Errorf("ListDecisions scan: %w", err)
		}
		decisions = append(decisions, d)
	}

	return decisions, int(total), rows.Err()
}

// GetDecision returns a single decision by project ID and request ID, or nil if not found.
func (r *Reader) GetDecision(ctx context.Context, projectID, requestID string) (*DecisionRow, error) {
	row := r.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM firewall_decisions "+
			"WHERE project_id = @project_id AND request_id = @request_id",
			decisionColumns),
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("request_id", requestID),
	)

	var d DecisionRow
	if err := scanDecision(row, &d); err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetDecision: %w", err)
	}
	if d.RequestID == "" {
		return nil, nil
	}
	return &d, nil
}

// SummaryStats holds aggregate counts for a project.
type SummaryStats struct {
	TotalChecks     int `json:"total_checks"`
	Flagged         int `json:"flagged"`
	Passed          int `json:"passed"`
	ShadowWouldFlag int `json:"shadow_would_flag"`
}

// AnalyzerCount holds a triggering analyzer and its count.
type AnalyzerCount struct {
	Analyzer string `json:"analyzer"`
	Count    int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// SummaryResult holds all summary aggregations.
type SummaryResult struct {
	Summary            SummaryStats    `json:"summary"`
	TopAnalyzers       []AnalyzerCount `json:"top_analyzers"`
	LatencyPercentiles LatencyStats    `json:"latency_percentiles"`
}

// GetSummary returns aggregated decision statistics for a project over the
// given number of days. Latency percentiles cover the last 24 hours.
func (r *Reader) GetSummary(ctx context.Context, projectID string, days int) (*SummaryResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("range_start", rangeStart),
	}

	result := &SummaryResult{}

	// Summary counts
	var total, flagged, shadowWouldFlag uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(is_manipulative = 1) as flagged, "+
			"countIf(is_manipulative = 1 AND is_shadow = 1) as shadow_would_flag "+
			"FROM firewall_decisions "+
			"WHERE project_id = @project_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &flagged, &shadowWouldFlag)
	if err != nil {
		return nil, fmt.Errorf("GetSummary counts: %w", err)
	}
	result.Summary = SummaryStats{
		TotalChecks:     int(total),
		Flagged:         int(flagged),
		Passed:          int(total - flagged),
		ShadowWouldFlag: int(shadowWouldFlag),
	}

	// Top triggering analyzers
	anRows, err := r.conn.Query(ctx,
		"SELECT triggering_analyzer, count() as count "+
			"FROM firewall_decisions "+
			"WHERE project_id = @project_id AND is_manipulative = 1 "+
			"AND triggering_analyzer != '' AND timestamp >= @range_start "+
			"GROUP BY triggering_analyzer ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary top_analyzers: %w", err)
	}
	defer func() { _ = anRows.Close() }()
	for anRows.Next() {
		var name string
		var count uint64
		if err := anRows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("GetSummary top_analyzers scan: %w", err)
		}
		result.TopAnalyzers = append(result.TopAnalyzers, AnalyzerCount{
			Analyzer: name, Count: int(count),
		})
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms) as p50, "+
			"quantile(0.95)(latency_ms) as p95, "+
			"quantile(0.99)(latency_ms) as p99 "+
			"FROM firewall_decisions "+
			"WHERE project_id = @project_id AND timestamp >= @day_start",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetSummary latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	if result.TopAnalyzers == nil {
		result.TopAnalyzers = []AnalyzerCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}

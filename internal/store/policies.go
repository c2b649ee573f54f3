package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Policy represents a row in the policies table.
type Policy struct {
	ID             string
	ProjectID      string
	AnalyzerConfig json.RawMessage // JSONB — raw bytes
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpdatePolicyParams holds optional fields for partial policy updates.
type UpdatePolicyParams struct {
	AnalyzerConfig *json.RawMessage // nil = don't change
}

// GetPolicy returns the policy for a project, or nil if not found.
func (s *Store) GetPolicy(ctx context.Context, projectID string) (*Policy, error) {
	var p Policy
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, analyzer_config, created_at, updated_at
		FROM policies WHERE project_id = $1`, projectID,
	).Scan(&p.ID, &p.ProjectID, &p.AnalyzerConfig, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPolicy: %w", err)
	}
	return &p, nil
}

// UpdatePolicy applies a partial update to a policy. Only non-nil fields are changed.
func (s *Store) UpdatePolicy(ctx context.Context, projectID string, params UpdatePolicyParams) (*Policy, error) {
	var p Policy
	err := s.db.QueryRowContext(ctx, `
		UPDATE policies SET
			analyzer_config = COALESCE($2, analyzer_config),
			updated_at      = now()
		WHERE project_id = $1
		RETURNING id, project_id, analyzer_config, created_at, updated_at`,
		projectID, nullableJSON(params.AnalyzerConfig),
	).Scan(&p.ID, &p.ProjectID, &p.AnalyzerConfig, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}
	return &p, nil
}

// ReplacePolicy fully replaces a policy's analyzer configuration.
func (s *Store) ReplacePolicy(ctx context.Context, projectID string, analyzerConfig json.RawMessage) (*Policy, error) {
	if analyzerConfig == nil {
		analyzerConfig = json.RawMessage(`{}`)
	}

	var p Policy
	err := s.db.QueryRowContext(ctx, `
		UPDATE policies SET
			analyzer_config = $2,
			updated_at      = now()
		WHERE project_id = $1
		RETURNING id, project_id, analyzer_config, created_at, updated_at`,
		projectID, analyzerConfig,
	).Scan(&p.ID, &p.ProjectID, &p.AnalyzerConfig, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReplacePolicy: %w", err)
	}
	return &p, nil
}

// nullableJSON returns nil (SQL NULL) if the pointer is nil, otherwise the raw bytes.
func nullableJSON(v *json.RawMessage) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

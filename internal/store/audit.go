package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/metasuper/core/internal/domainerr"
)

// AuditEntry mirrors spec.md §3's audit_log row: a record of every
// mutating tool invocation, success or failure, for operator review.
type AuditEntry struct {
	ID           int64
	Timestamp    time.Time
	Action       string
	Project      *string
	DetailsJSON  string
	Success      bool
	ErrorMessage *string
}

// AppendAudit writes one audit_log row. Never returns an error that should
// abort the caller's own operation — audit logging failures are logged and
// swallowed by component K, not propagated to the tool caller.
func (s *Store) AppendAudit(ctx context.Context, action string, project *string, detailsJSON string, success bool, errMsg *string) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO audit_log (action, project, details_json, success, error_message)
		VALUES (?, ?, ?, ?, ?)
	`, action, project, detailsJSON, boolToInt(success), errMsg)
	if err != nil {
		return domainerr.WrapInternal("append audit log", err)
	}
	return nil
}

// ListRecentAudit returns the most recent audit entries, newest first,
// optionally filtered to a project.
func (s *Store) ListRecentAudit(ctx context.Context, project string, limit int) ([]*AuditEntry, error) {
	query := `SELECT id, timestamp, action, project, details_json, success, error_message FROM audit_log WHERE 1=1`
	var args []any
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domainerr.WrapInternal("list audit log", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var proj, errMsg sql.NullString
		var success int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &proj, &e.DetailsJSON, &success, &errMsg); err != nil {
			return nil, domainerr.WrapInternal("scan audit entry", err)
		}
		if proj.Valid {
			e.Project = &proj.String
		}
		if errMsg.Valid {
			e.ErrorMessage = &errMsg.String
		}
		e.Success = success != 0
		out = append(out, &e)
	}
	return out, nil
}

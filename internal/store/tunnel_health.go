package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/metasuper/core/internal/domainerr"
)

// TunnelHealthSample mirrors spec.md §3's tunnel_health row — one snapshot
// per tick from component I's monitor loop.
type TunnelHealthSample struct {
	ID           int64
	Timestamp    time.Time
	Status       string
	UptimeS      int64
	RestartCount int
	LastError    *string
}

// AppendTunnelHealth records one monitor tick.
func (s *Store) AppendTunnelHealth(ctx context.Context, status string, uptimeS int64, restartCount int, lastError *string) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO tunnel_health (status, uptime_s, restart_count, last_error) VALUES (?, ?, ?, ?)
	`, status, uptimeS, restartCount, lastError)
	if err != nil {
		return domainerr.WrapInternal("append tunnel health", err)
	}
	return nil
}

// LatestTunnelHealth returns the most recent sample, or domainerr.ErrNotFound
// if the monitor has never ticked.
func (s *Store) LatestTunnelHealth(ctx context.Context) (*TunnelHealthSample, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, timestamp, status, uptime_s, restart_count, last_error FROM tunnel_health ORDER BY timestamp DESC LIMIT 1
	`)
	var sample TunnelHealthSample
	var lastErr sql.NullString
	if err := row.Scan(&sample.ID, &sample.Timestamp, &sample.Status, &sample.UptimeS, &sample.RestartCount, &lastErr); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerr.WrapNotFound("tunnel health sample", err)
		}
		return nil, domainerr.WrapInternal("query tunnel health", err)
	}
	if lastErr.Valid {
		sample.LastError = &lastErr.String
	}
	return &sample, nil
}

// ListTunnelHealth returns up to limit recent samples, newest first, for the
// history view behind the tunnel status tool.
func (s *Store) ListTunnelHealth(ctx context.Context, limit int) ([]*TunnelHealthSample, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, timestamp, status, uptime_s, restart_count, last_error FROM tunnel_health ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, domainerr.WrapInternal("list tunnel health", err)
	}
	defer rows.Close()

	var out []*TunnelHealthSample
	for rows.Next() {
		var sample TunnelHealthSample
		var lastErr sql.NullString
		if err := rows.Scan(&sample.ID, &sample.Timestamp, &sample.Status, &sample.UptimeS, &sample.RestartCount, &lastErr); err != nil {
			return nil, domainerr.WrapInternal("scan tunnel health", err)
		}
		if lastErr.Valid {
			sample.LastError = &lastErr.String
		}
		out = append(out, &sample)
	}
	return out, nil
}

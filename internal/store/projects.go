package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/metasuper/core/internal/domainerr"
)

// Project mirrors spec.md §3's Project entity — the registry entry that
// binds a project name to its assigned port range and allowed tool set.
type Project struct {
	Name         string
	PortRangeID  string
	WorkingDir   string
	ToolsAllowed []string
	CreatedAt    time.Time
}

// UpsertProject registers or updates a project's range/working dir/allowed
// tools. Called at router startup when the projects config is (re)loaded.
func (s *Store) UpsertProject(ctx context.Context, p *Project) error {
	toolsJSON, err := json.Marshal(p.ToolsAllowed)
	if err != nil {
		return domainerr.WrapInternal("marshal tools_allowed", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO projects (name, port_range_id, working_dir, tools_allowed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			port_range_id = excluded.port_range_id, working_dir = excluded.working_dir, tools_allowed = excluded.tools_allowed
	`, p.Name, p.PortRangeID, p.WorkingDir, string(toolsJSON))
	if err != nil {
		return domainerr.WrapInternal("upsert project", err)
	}
	return nil
}

// GetProject returns a project by name.
func (s *Store) GetProject(ctx context.Context, name string) (*Project, error) {
	row := s.QueryRowContext(ctx, `SELECT name, port_range_id, working_dir, tools_allowed, created_at FROM projects WHERE name = ?`, name)
	var p Project
	var toolsJSON string
	if err := row.Scan(&p.Name, &p.PortRangeID, &p.WorkingDir, &toolsJSON, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerr.WrapNotFound("project", err)
		}
		return nil, domainerr.WrapInternal("query project", err)
	}
	if err := json.Unmarshal([]byte(toolsJSON), &p.ToolsAllowed); err != nil {
		return nil, domainerr.WrapInternal("unmarshal tools_allowed", err)
	}
	return &p, nil
}

// ListProjects returns every registered project, for the router's discovery
// endpoint (spec.md §6 GET /mcp/endpoints).
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.QueryContext(ctx, `SELECT name, port_range_id, working_dir, tools_allowed, created_at FROM projects ORDER BY name ASC`)
	if err != nil {
		return nil, domainerr.WrapInternal("list projects", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var p Project
		var toolsJSON string
		if err := rows.Scan(&p.Name, &p.PortRangeID, &p.WorkingDir, &toolsJSON, &p.CreatedAt); err != nil {
			return nil, domainerr.WrapInternal("scan project", err)
		}
		if err := json.Unmarshal([]byte(toolsJSON), &p.ToolsAllowed); err != nil {
			return nil, domainerr.WrapInternal("unmarshal tools_allowed", err)
		}
		out = append(out, &p)
	}
	return out, nil
}

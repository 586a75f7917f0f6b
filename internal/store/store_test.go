package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Init(path)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitCreatesSchema(t *testing.T) {
	s := openTestStore(t)

	tables := []string{
		"projects", "port_ranges", "port_allocations", "secrets", "secret_access_log",
		"cf_zones", "cnames", "tunnel_health", "audit_log", "containers", "networks",
		"container_networks", "container_ports",
	}
	for _, tbl := range tables {
		var name string
		err := s.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, tbl).Scan(&name)
		if err != nil {
			t.Errorf("expected table %q to exist: %v", tbl, err)
		}
	}
}

func TestInitIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Init(path)
	if err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	s1.Close()

	s2, err := Init(path)
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	defer s2.Close()
}

func TestProjectRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &Project{Name: "blog", PortRangeID: "range-1", WorkingDir: "/srv/blog", ToolsAllowed: []string{"get_secret", "allocate_port"}}
	if err := s.UpsertProject(ctx, p); err != nil {
		t.Fatalf("UpsertProject() error = %v", err)
	}

	got, err := s.GetProject(ctx, "blog")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.WorkingDir != p.WorkingDir {
		t.Errorf("WorkingDir = %q, want %q", got.WorkingDir, p.WorkingDir)
	}
	if len(got.ToolsAllowed) != 2 {
		t.Errorf("ToolsAllowed = %v, want 2 entries", got.ToolsAllowed)
	}

	if _, err := s.GetProject(ctx, "missing"); err == nil {
		t.Error("expected error for missing project")
	}
}

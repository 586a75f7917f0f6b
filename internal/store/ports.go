package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/metasuper/core/internal/constants"
	"github.com/metasuper/core/internal/domainerr"
)

// PortAllocation mirrors spec.md §3's PortAllocation entity.
type PortAllocation struct {
	ID                 string
	Project            string
	ServiceName        string
	Port               int
	ServiceType        string
	Host               string
	Protocol           string
	Status             string
	CloudflareHostname *string
	AllocatedAt        time.Time
	ReleasedAt         *time.Time
}

// PortRange mirrors spec.md §3's PortRange entity.
type PortRange struct {
	ID     string
	Name   string
	Start  int
	End    int
	Active bool
}

// GetPortRangeByName returns the named range, or domainerr.ErrNotFound.
func (s *Store) GetPortRangeByName(ctx context.Context, name string) (*PortRange, error) {
	row := s.QueryRowContext(ctx, `SELECT id, name, start, end_port, active FROM port_ranges WHERE name = ?`, name)
	var r PortRange
	var active int
	if err := row.Scan(&r.ID, &r.Name, &r.Start, &r.End, &active); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerr.WrapNotFound("port range", err)
		}
		return nil, domainerr.WrapInternal("query port range", err)
	}
	r.Active = active != 0
	return &r, nil
}

// GetPortRangeByID returns the range by its primary key, used to resolve a
// project's assigned range from Project.PortRangeID (spec.md §4.F
// get_or_allocate/allocate: the range comes from the project's own
// assignment, not a caller-supplied name).
func (s *Store) GetPortRangeByID(ctx context.Context, id string) (*PortRange, error) {
	row := s.QueryRowContext(ctx, `SELECT id, name, start, end_port, active FROM port_ranges WHERE id = ?`, id)
	var r PortRange
	var active int
	if err := row.Scan(&r.ID, &r.Name, &r.Start, &r.End, &active); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerr.WrapNotFound("port range", err)
		}
		return nil, domainerr.WrapInternal("query port range", err)
	}
	r.Active = active != 0
	return &r, nil
}

// UpsertPortRange creates or replaces a named range (used at config load).
func (s *Store) UpsertPortRange(ctx context.Context, name string, start, end int) (*PortRange, error) {
	id := uuid.New().String()
	_, err := s.ExecContext(ctx, `
		INSERT INTO port_ranges (id, name, start, end_port, active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET start = excluded.start, end_port = excluded.end_port, active = 1
	`, id, name, start, end)
	if err != nil {
		return nil, domainerr.WrapInternal("upsert port range", err)
	}
	return s.GetPortRangeByName(ctx, name)
}

// findAvailablePort returns the lowest unused port in [start, end] with no
// active allocation at (host, protocol). Must run inside tx to be atomic
// with respect to allocation (spec.md §4.B).
func findAvailablePort(ctx context.Context, q queryer, start, end int, host, protocol string) (int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT port FROM port_allocations
		WHERE host = ? AND protocol = ? AND status = ? AND port BETWEEN ? AND ?
		ORDER BY port ASC
	`, host, protocol, constants.AllocationStatusAllocated, start, end)
	if err != nil {
		return 0, domainerr.WrapInternal("query allocated ports", err)
	}
	defer rows.Close()

	used := make(map[int]bool)
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return 0, domainerr.WrapInternal("scan allocated port", err)
		}
		used[p] = true
	}

	for p := start; p <= end; p++ {
		if !used[p] {
			return p, nil
		}
	}
	return 0, domainerr.New(domainerr.KindConflict, "no free port in range", nil)
}

// queryer is satisfied by both *sql.DB and *sql.Tx, letting findAvailablePort
// run either standalone (reads) or inside a transaction (allocation).
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetActiveAllocation returns the project's active allocation for service,
// or nil if none exists.
func (s *Store) GetActiveAllocation(ctx context.Context, project, service string) (*PortAllocation, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, project, service_name, port, service_type, host, protocol, status, cloudflare_hostname, allocated_at, released_at
		FROM port_allocations WHERE project = ? AND service_name = ? AND status = ?
	`, project, service, constants.AllocationStatusAllocated)
	return scanAllocation(row)
}

func scanAllocation(row *sql.Row) (*PortAllocation, error) {
	var a PortAllocation
	var hostname sql.NullString
	var releasedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.Project, &a.ServiceName, &a.Port, &a.ServiceType, &a.Host, &a.Protocol,
		&a.Status, &hostname, &a.AllocatedAt, &releasedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, domainerr.WrapInternal("scan port allocation", err)
	}
	if hostname.Valid {
		a.CloudflareHostname = &hostname.String
	}
	if releasedAt.Valid {
		a.ReleasedAt = &releasedAt.Time
	}
	return &a, nil
}

// AllocatePort atomically assigns a new port in rng for (project, service).
// Fails with domainerr.ErrDuplicateService if one already exists, or
// domainerr.ErrPortExhausted if the range has no free port.
func (s *Store) AllocatePort(ctx context.Context, project string, rng PortRange, service, serviceType, host, protocol string) (*PortAllocation, error) {
	return s.allocatePort(ctx, project, rng, service, serviceType, host, protocol, false)
}

// GetOrAllocatePort returns the project's existing active allocation for
// service if one exists, or atomically assigns a fresh one. The existence
// check and the insert run inside the same transaction, so two concurrent
// callers for the same (project, service) converge on one port instead of
// the loser observing AllocatePort's own duplicate check and erroring
// (spec.md §8's concurrent get_or_allocate property).
func (s *Store) GetOrAllocatePort(ctx context.Context, project string, rng PortRange, service, serviceType, host, protocol string) (*PortAllocation, error) {
	return s.allocatePort(ctx, project, rng, service, serviceType, host, protocol, true)
}

func (s *Store) allocatePort(ctx context.Context, project string, rng PortRange, service, serviceType, host, protocol string, reuseExisting bool) (*PortAllocation, error) {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return nil, domainerr.WrapInternal("begin transaction", err)
	}
	defer tx.Rollback()

	existing, err := scanAllocation(tx.QueryRowContext(ctx, `
		SELECT id, project, service_name, port, service_type, host, protocol, status, cloudflare_hostname, allocated_at, released_at
		FROM port_allocations WHERE project = ? AND service_name = ? AND status = ?
	`, project, service, constants.AllocationStatusAllocated))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !reuseExisting {
			return nil, domainerr.ErrDuplicateService
		}
		if err := tx.Commit(); err != nil {
			return nil, domainerr.WrapInternal("commit allocation", err)
		}
		return existing, nil
	}

	port, err := findAvailablePort(ctx, tx, rng.Start, rng.End, host, protocol)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO port_allocations (id, project, service_name, port, service_type, host, protocol, status, allocated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, id, project, service, port, serviceType, host, protocol, constants.AllocationStatusAllocated); err != nil {
		return nil, domainerr.WrapInternal("insert port allocation", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, domainerr.WrapInternal("commit allocation", err)
	}
	return s.GetActiveAllocation(ctx, project, service)
}

// ReleaseAllocation soft-deletes the active allocation for (project, service).
// Idempotent: releasing an already-released service is a no-op.
func (s *Store) ReleaseAllocation(ctx context.Context, project, service string) error {
	_, err := s.ExecContext(ctx, `
		UPDATE port_allocations SET status = ?, released_at = CURRENT_TIMESTAMP
		WHERE project = ? AND service_name = ? AND status = ?
	`, constants.AllocationStatusReleased, project, service, constants.AllocationStatusAllocated)
	if err != nil {
		return domainerr.WrapInternal("release allocation", err)
	}
	return nil
}

// ListActiveAllocations returns every active allocation for a project,
// ordered by port, for summary/audit reporting.
func (s *Store) ListActiveAllocations(ctx context.Context, project string) ([]*PortAllocation, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, project, service_name, port, service_type, host, protocol, status, cloudflare_hostname, allocated_at, released_at
		FROM port_allocations WHERE project = ? AND status = ? ORDER BY port ASC
	`, project, constants.AllocationStatusAllocated)
	if err != nil {
		return nil, domainerr.WrapInternal("list allocations", err)
	}
	defer rows.Close()

	var out []*PortAllocation
	for rows.Next() {
		var a PortAllocation
		var hostname sql.NullString
		var releasedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.Project, &a.ServiceName, &a.Port, &a.ServiceType, &a.Host, &a.Protocol,
			&a.Status, &hostname, &a.AllocatedAt, &releasedAt); err != nil {
			return nil, domainerr.WrapInternal("scan allocation", err)
		}
		if hostname.Valid {
			a.CloudflareHostname = &hostname.String
		}
		if releasedAt.Valid {
			a.ReleasedAt = &releasedAt.Time
		}
		out = append(out, &a)
	}
	return out, nil
}

// FindAllocationByPort returns the active allocation occupying (host, port,
// protocol) across all projects, used by the CNAME lifecycle's ownership
// check (spec.md §4.J step 3).
func (s *Store) FindAllocationByPort(ctx context.Context, host string, port int, protocol string) (*PortAllocation, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, project, service_name, port, service_type, host, protocol, status, cloudflare_hostname, allocated_at, released_at
		FROM port_allocations WHERE host = ? AND port = ? AND protocol = ? AND status = ?
	`, host, port, protocol, constants.AllocationStatusAllocated)
	return scanAllocation(row)
}

// FindAllocationByPortAnyHost is FindAllocationByPort without the host
// filter, used when the caller does not yet know whether the allocation is
// a "localhost" service (routed through the tunnel) or an externally
// hosted one (routed by a direct DNS A record, spec.md §3 target_type
// "external").
func (s *Store) FindAllocationByPortAnyHost(ctx context.Context, port int, protocol string) (*PortAllocation, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, project, service_name, port, service_type, host, protocol, status, cloudflare_hostname, allocated_at, released_at
		FROM port_allocations WHERE port = ? AND protocol = ? AND status = ?
	`, port, protocol, constants.AllocationStatusAllocated)
	return scanAllocation(row)
}

// SetCloudflareHostname records which ingress hostname an allocation was
// published under, so PortAllocation rows can be cross-referenced from a CNAME.
func (s *Store) SetCloudflareHostname(ctx context.Context, allocationID, hostname string) error {
	_, err := s.ExecContext(ctx, `UPDATE port_allocations SET cloudflare_hostname = ? WHERE id = ?`, hostname, allocationID)
	if err != nil {
		return domainerr.WrapInternal("set cloudflare hostname", err)
	}
	return nil
}

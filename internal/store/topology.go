package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/metasuper/core/internal/constants"
	"github.com/metasuper/core/internal/domainerr"
)

// Container mirrors spec.md §3's Container entity, as last observed by
// component C's topology poller.
type Container struct {
	ID       string
	Name     string
	Image    string
	Status   string
	Project  *string
	LastSeen time.Time
}

// Network mirrors spec.md §3's Network entity.
type Network struct {
	ID       string
	Name     string
	Driver   string
	LastSeen time.Time
}

// ContainerPort mirrors a single published port on a container.
type ContainerPort struct {
	ContainerID  string
	InternalPort int
	HostPort     *int
	Protocol     string
}

// NetworkMembership records that a container is attached to a network
// with a given IP address.
type NetworkMembership struct {
	ContainerID string
	NetworkID   string
	IPAddress   string
}

// ReplaceTopology upserts every row seen on this tick, bumping its
// last_seen, then prunes rows whose last_seen has fallen behind the
// constants.TopologyStaleTicks grace period. A container that misses a
// single poll (a transient Docker socket hiccup) survives until it has
// been absent that many ticks running, rather than vanishing immediately
// (spec.md §3 staleness invariant).
func (s *Store) ReplaceTopology(ctx context.Context, containers []*Container, networks []*Network,
	memberships []*NetworkMembership, ports []*ContainerPort) error {

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return domainerr.WrapInternal("begin transaction", err)
	}
	defer tx.Rollback()

	for _, c := range containers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO containers (id, name, image, status, project, last_seen) VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, image = excluded.image,
				status = excluded.status, project = excluded.project, last_seen = CURRENT_TIMESTAMP
		`, c.ID, c.Name, c.Image, c.Status, c.Project); err != nil {
			return domainerr.WrapInternal("upsert container", err)
		}
	}
	for _, n := range networks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO networks (id, name, driver, last_seen) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, driver = excluded.driver, last_seen = CURRENT_TIMESTAMP
		`, n.ID, n.Name, n.Driver); err != nil {
			return domainerr.WrapInternal("upsert network", err)
		}
	}
	for _, m := range memberships {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO container_networks (container_id, network_id, ip_address, last_seen) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(container_id, network_id) DO UPDATE SET ip_address = excluded.ip_address, last_seen = CURRENT_TIMESTAMP
		`, m.ContainerID, m.NetworkID, m.IPAddress); err != nil {
			return domainerr.WrapInternal("upsert container network membership", err)
		}
	}
	for _, p := range ports {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO container_ports (container_id, internal_port, host_port, protocol, last_seen) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(container_id, internal_port, protocol) DO UPDATE SET host_port = excluded.host_port, last_seen = CURRENT_TIMESTAMP
		`, p.ContainerID, p.InternalPort, p.HostPort, p.Protocol); err != nil {
			return domainerr.WrapInternal("upsert container port", err)
		}
	}

	cutoff := time.Now().Add(-time.Duration(constants.TopologyStaleTicks) * constants.TopologyProbeInterval)
	for _, table := range []string{"containers", "networks", "container_networks", "container_ports"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE last_seen < ?`, cutoff); err != nil {
			return domainerr.WrapInternal("prune stale "+table, err)
		}
	}

	return tx.Commit()
}

// FindContainerByListeningPort returns the container that has host_port
// bound (component C's find_container_by_listening_port).
func (s *Store) FindContainerByListeningPort(ctx context.Context, hostPort int, protocol string) (*Container, error) {
	row := s.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.image, c.status, c.project, c.last_seen
		FROM containers c JOIN container_ports p ON p.container_id = c.id
		WHERE p.host_port = ? AND p.protocol = ?
	`, hostPort, protocol)
	var c Container
	var project sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.Image, &c.Status, &project, &c.LastSeen); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, domainerr.WrapInternal("query container by port", err)
	}
	if project.Valid {
		c.Project = &project.String
	}
	return &c, nil
}

// SharedNetworks returns the network names both containers belong to
// (component C's shared_networks).
func (s *Store) SharedNetworks(ctx context.Context, containerA, containerB string) ([]string, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT n.name FROM networks n
		JOIN container_networks cna ON cna.network_id = n.id AND cna.container_id = ?
		JOIN container_networks cnb ON cnb.network_id = n.id AND cnb.container_id = ?
	`, containerA, containerB)
	if err != nil {
		return nil, domainerr.WrapInternal("query shared networks", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, domainerr.WrapInternal("scan shared network", err)
		}
		out = append(out, name)
	}
	return out, nil
}

// ListContainers returns every container last seen in the current snapshot.
func (s *Store) ListContainers(ctx context.Context) ([]*Container, error) {
	rows, err := s.QueryContext(ctx, `SELECT id, name, image, status, project, last_seen FROM containers ORDER BY name ASC`)
	if err != nil {
		return nil, domainerr.WrapInternal("list containers", err)
	}
	defer rows.Close()

	var out []*Container
	for rows.Next() {
		var c Container
		var project sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Image, &c.Status, &project, &c.LastSeen); err != nil {
			return nil, domainerr.WrapInternal("scan container", err)
		}
		if project.Valid {
			c.Project = &project.String
		}
		out = append(out, &c)
	}
	return out, nil
}

// FindContainerHostPort returns the host_port bound to a container's
// internalPort, if any — used by the CNAME lifecycle's "container has a
// host-port binding" fallback path (spec.md §4.J step 4).
func (s *Store) FindContainerHostPort(ctx context.Context, containerID string, internalPort int) (*int, error) {
	row := s.QueryRowContext(ctx, `
		SELECT host_port FROM container_ports WHERE container_id = ? AND internal_port = ?
	`, containerID, internalPort)
	var hostPort sql.NullInt64
	if err := row.Scan(&hostPort); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, domainerr.WrapInternal("query container host port", err)
	}
	if !hostPort.Valid {
		return nil, nil
	}
	port := int(hostPort.Int64)
	return &port, nil
}

// FindContainerByNameOrImageLike returns the first container whose name or
// image contains needle (case-sensitive substring) — component C's
// cloudflared detection heuristic (spec.md §4.C: "detected by name/image
// heuristics").
func (s *Store) FindContainerByNameOrImageLike(ctx context.Context, needle string) (*Container, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, name, image, status, project, last_seen FROM containers
		WHERE name LIKE '%' || ? || '%' OR image LIKE '%' || ? || '%'
		LIMIT 1
	`, needle, needle)
	var c Container
	var project sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.Image, &c.Status, &project, &c.LastSeen); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, domainerr.WrapInternal("query container by name/image", err)
	}
	if project.Valid {
		c.Project = &project.String
	}
	return &c, nil
}

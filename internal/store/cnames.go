package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/metasuper/core/internal/domainerr"
)

// CNAME mirrors spec.md §3's CNAME entity: a published Cloudflare DNS record
// plus enough routing metadata for the ingress manager and topology prober
// to resolve it back to a running target.
type CNAME struct {
	Subdomain          string
	Domain             string
	FullHostname       string
	TargetService      string
	TargetType         string
	ContainerName      *string
	DockerNetwork      *string
	Project            string
	CloudflareRecordID string
	CreatedBy          string
	CreatedAt          time.Time
}

// PutCNAME inserts a new CNAME row. Fails with domainerr.ErrConflict if the
// (subdomain, domain) pair is already taken — callers should check
// GetCNAME first to produce a clearer pre-flight rejection per spec.md §4.J.
func (s *Store) PutCNAME(ctx context.Context, c *CNAME) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO cnames (subdomain, domain, full_hostname, target_service, target_type, container_name, docker_network, project, cloudflare_record_id, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Subdomain, c.Domain, c.FullHostname, c.TargetService, c.TargetType, c.ContainerName, c.DockerNetwork, c.Project, c.CloudflareRecordID, c.CreatedBy)
	if err != nil {
		return domainerr.WrapConflict("cname already exists", err)
	}
	return nil
}

// GetCNAME returns the record for (subdomain, domain), or nil if absent.
func (s *Store) GetCNAME(ctx context.Context, subdomain, domain string) (*CNAME, error) {
	row := s.QueryRowContext(ctx, `
		SELECT subdomain, domain, full_hostname, target_service, target_type, container_name, docker_network, project, cloudflare_record_id, created_by, created_at
		FROM cnames WHERE subdomain = ? AND domain = ?
	`, subdomain, domain)
	var c CNAME
	var containerName, dockerNetwork sql.NullString
	if err := row.Scan(&c.Subdomain, &c.Domain, &c.FullHostname, &c.TargetService, &c.TargetType,
		&containerName, &dockerNetwork, &c.Project, &c.CloudflareRecordID, &c.CreatedBy, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, domainerr.WrapInternal("query cname", err)
	}
	if containerName.Valid {
		c.ContainerName = &containerName.String
	}
	if dockerNetwork.Valid {
		c.DockerNetwork = &dockerNetwork.String
	}
	return &c, nil
}

// DeleteCNAME removes the record for (subdomain, domain). Idempotent.
func (s *Store) DeleteCNAME(ctx context.Context, subdomain, domain string) error {
	if _, err := s.ExecContext(ctx, `DELETE FROM cnames WHERE subdomain = ? AND domain = ?`, subdomain, domain); err != nil {
		return domainerr.WrapInternal("delete cname", err)
	}
	return nil
}

// ListCNAMEsByProject returns every CNAME owned by project.
func (s *Store) ListCNAMEsByProject(ctx context.Context, project string) ([]*CNAME, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT subdomain, domain, full_hostname, target_service, target_type, container_name, docker_network, project, cloudflare_record_id, created_by, created_at
		FROM cnames WHERE project = ? ORDER BY full_hostname ASC
	`, project)
	if err != nil {
		return nil, domainerr.WrapInternal("list cnames", err)
	}
	defer rows.Close()

	var out []*CNAME
	for rows.Next() {
		var c CNAME
		var containerName, dockerNetwork sql.NullString
		if err := rows.Scan(&c.Subdomain, &c.Domain, &c.FullHostname, &c.TargetService, &c.TargetType,
			&containerName, &dockerNetwork, &c.Project, &c.CloudflareRecordID, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, domainerr.WrapInternal("scan cname", err)
		}
		if containerName.Valid {
			c.ContainerName = &containerName.String
		}
		if dockerNetwork.Valid {
			c.DockerNetwork = &dockerNetwork.String
		}
		out = append(out, &c)
	}
	return out, nil
}

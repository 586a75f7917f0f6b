package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/metasuper/core/internal/domainerr"
)

// CFZone caches a Cloudflare zone's ID against its domain name, refreshed
// every 24h by component E's cron job so per-request lookups never hit the
// Cloudflare API.
type CFZone struct {
	Domain   string
	ZoneID   string
	LastSeen time.Time
}

// UpsertZone writes or refreshes a cached zone.
func (s *Store) UpsertZone(ctx context.Context, domain, zoneID string) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO cf_zones (domain, zone_id, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(domain) DO UPDATE SET zone_id = excluded.zone_id, last_seen = CURRENT_TIMESTAMP
	`, domain, zoneID)
	if err != nil {
		return domainerr.WrapInternal("upsert cf zone", err)
	}
	return nil
}

// GetZone returns the cached zone ID for domain, or domainerr.ErrNotFound
// if the zone cache hasn't seen it (caller should trigger a refresh).
func (s *Store) GetZone(ctx context.Context, domain string) (*CFZone, error) {
	row := s.QueryRowContext(ctx, `SELECT domain, zone_id, last_seen FROM cf_zones WHERE domain = ?`, domain)
	var z CFZone
	if err := row.Scan(&z.Domain, &z.ZoneID, &z.LastSeen); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerr.WrapNotFound("cloudflare zone", err)
		}
		return nil, domainerr.WrapInternal("query cf zone", err)
	}
	return &z, nil
}

// ListZones returns every cached zone.
func (s *Store) ListZones(ctx context.Context) ([]*CFZone, error) {
	rows, err := s.QueryContext(ctx, `SELECT domain, zone_id, last_seen FROM cf_zones ORDER BY domain ASC`)
	if err != nil {
		return nil, domainerr.WrapInternal("list cf zones", err)
	}
	defer rows.Close()

	var out []*CFZone
	for rows.Next() {
		var z CFZone
		if err := rows.Scan(&z.Domain, &z.ZoneID, &z.LastSeen); err != nil {
			return nil, domainerr.WrapInternal("scan cf zone", err)
		}
		out = append(out, &z)
	}
	return out, nil
}

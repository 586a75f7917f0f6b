package cfclient

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/metasuper/core/internal/store"
)

// ZoneRefresher keeps store.cf_zones in sync with the account's zone list
// on a fixed schedule, so per-request CNAME lookups never call the
// Cloudflare API directly (spec.md §3: "Refreshed on startup, on demand, or
// every 24h").
type ZoneRefresher struct {
	client *Client
	store  *store.Store
	cron   *cron.Cron
}

// NewZoneRefresher wires a refresher; call Start to begin the schedule.
func NewZoneRefresher(client *Client, s *store.Store) *ZoneRefresher {
	return &ZoneRefresher{client: client, store: s, cron: cron.New()}
}

// Start refreshes immediately, then schedules a refresh every 24h.
func (r *ZoneRefresher) Start(ctx context.Context) error {
	if err := r.RefreshOnce(ctx); err != nil {
		slog.Warn("initial cloudflare zone refresh failed", "error", err)
	}
	if _, err := r.cron.AddFunc("@every 24h", func() {
		if err := r.RefreshOnce(ctx); err != nil {
			slog.Error("scheduled cloudflare zone refresh failed", "error", err)
		}
	}); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule; in-flight refreshes are allowed to finish.
func (r *ZoneRefresher) Stop() {
	<-r.cron.Stop().Done()
}

// RefreshOnce fetches the current zone list and upserts it into the cache.
func (r *ZoneRefresher) RefreshOnce(ctx context.Context) error {
	zones, err := r.client.ListZones(ctx)
	if err != nil {
		return err
	}
	for _, z := range zones {
		if err := r.store.UpsertZone(ctx, z.Name, z.ID); err != nil {
			return err
		}
	}
	slog.Info("refreshed cloudflare zone cache", "zones", len(zones))
	return nil
}

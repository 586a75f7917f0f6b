// Package portalloc implements component F, the port allocator: a thin
// logic layer over internal/store's transactional primitives plus the
// liveness-audit and summary views that have no place in the SQL layer.
package portalloc

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/metasuper/core/internal/domainerr"
	"github.com/metasuper/core/internal/store"
)

const auditDialTimeout = 500 * time.Millisecond

// Allocator is the public API for component F.
type Allocator struct {
	store *store.Store
}

// New builds an Allocator over an already-initialized Store.
func New(s *store.Store) *Allocator {
	return &Allocator{store: s}
}

// Options carries the optional fields a caller can set on allocation.
type Options struct {
	ServiceType string
	Host        string
	Protocol    string
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Protocol == "" {
		o.Protocol = "tcp"
	}
	return o
}

// rangeFor resolves project's own assigned range (spec.md §4.F: neither
// get_or_allocate nor allocate take a range as input, the allocator looks
// up the project's exclusive range itself via B). A project with no
// port_range_id set fails with domainerr.ErrNoRangeAssigned.
func (a *Allocator) rangeFor(ctx context.Context, project string) (store.PortRange, error) {
	p, err := a.store.GetProject(ctx, project)
	if err != nil {
		return store.PortRange{}, err
	}
	if p.PortRangeID == "" {
		return store.PortRange{}, domainerr.ErrNoRangeAssigned
	}
	rng, err := a.store.GetPortRangeByID(ctx, p.PortRangeID)
	if err != nil {
		return store.PortRange{}, err
	}
	return *rng, nil
}

// GetOrAllocate returns the project's existing active allocation for
// service, or assigns a fresh one in its assigned range if none exists.
// The existence check and the allocation happen inside one store
// transaction (store.GetOrAllocatePort), so two concurrent callers for the
// same (project, service) converge on the same port rather than one losing
// with domainerr.ErrDuplicateService (spec.md §8).
func (a *Allocator) GetOrAllocate(ctx context.Context, project, service string, opts Options) (*store.PortAllocation, error) {
	opts = opts.withDefaults()
	rng, err := a.rangeFor(ctx, project)
	if err != nil {
		return nil, err
	}
	return a.store.GetOrAllocatePort(ctx, project, rng, service, opts.ServiceType, opts.Host, opts.Protocol)
}

// Allocate always assigns a new port, failing if the service already owns
// one (domainerr.ErrDuplicateService) or the range is exhausted
// (domainerr.ErrPortExhausted).
func (a *Allocator) Allocate(ctx context.Context, project, service string, opts Options) (*store.PortAllocation, error) {
	opts = opts.withDefaults()
	rng, err := a.rangeFor(ctx, project)
	if err != nil {
		return nil, err
	}
	return a.store.AllocatePort(ctx, project, rng, service, opts.ServiceType, opts.Host, opts.Protocol)
}

// Release soft-deletes the active allocation for (project, service).
// Idempotent.
func (a *Allocator) Release(ctx context.Context, project, service string) error {
	return a.store.ReleaseAllocation(ctx, project, service)
}

// AuditEntry describes the observed liveness of one active allocation.
type AuditEntry struct {
	Allocation *store.PortAllocation
	Running    bool
}

// AuditReport groups allocations by observed state. Audit never mutates
// store state — it only reports what it saw (spec.md §4.F).
type AuditReport struct {
	Allocated  []*AuditEntry
	InUse      []*AuditEntry
	NotRunning []*AuditEntry
	Conflicts  []*AuditEntry
}

// Audit probes every active allocation for project with a bounded TCP dial
// and classifies the result. It never mutates allocation state.
func (a *Allocator) Audit(ctx context.Context, project string) (*AuditReport, error) {
	allocations, err := a.store.ListActiveAllocations(ctx, project)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{}
	for _, alloc := range allocations {
		entry := &AuditEntry{Allocation: alloc, Running: probeLiveness(alloc.Host, alloc.Port)}
		report.Allocated = append(report.Allocated, entry)
		if entry.Running {
			report.InUse = append(report.InUse, entry)
		} else {
			report.NotRunning = append(report.NotRunning, entry)
		}
	}
	return report, nil
}

func probeLiveness(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), auditDialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Summary reports utilization of a project's assigned range.
type Summary struct {
	RangeStart  int
	RangeEnd    int
	Total       int
	Allocated   int
	Available   int
	UtilPercent float64
}

// Summarize computes a project's allocation utilization within rng.
func (a *Allocator) Summarize(ctx context.Context, project string, rng store.PortRange) (*Summary, error) {
	allocations, err := a.store.ListActiveAllocations(ctx, project)
	if err != nil {
		return nil, err
	}
	total := rng.End - rng.Start + 1
	if total <= 0 {
		return nil, domainerr.New(domainerr.KindValidation, "port range has no capacity", nil)
	}
	allocated := len(allocations)
	return &Summary{
		RangeStart:  rng.Start,
		RangeEnd:    rng.End,
		Total:       total,
		Allocated:   allocated,
		Available:   total - allocated,
		UtilPercent: float64(allocated) / float64(total) * 100,
	}, nil
}

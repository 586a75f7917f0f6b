package portalloc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/metasuper/core/internal/domainerr"
	"github.com/metasuper/core/internal/store"
)

func openTestAllocator(t *testing.T) (*Allocator, *store.Store) {
	t.Helper()
	s, err := store.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Init() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

// registerProject assigns rng to project, the same way the router's project
// config load does via store.UpsertProject (spec.md §4.F: the allocator
// resolves a project's range itself, callers never supply one).
func registerProject(t *testing.T, s *store.Store, project string, rng *store.PortRange) {
	t.Helper()
	if err := s.UpsertProject(context.Background(), &store.Project{Name: project, PortRangeID: rng.ID, ToolsAllowed: []string{}}); err != nil {
		t.Fatalf("UpsertProject() error = %v", err)
	}
}

func TestGetOrAllocateReusesExisting(t *testing.T) {
	a, s := openTestAllocator(t)
	ctx := context.Background()
	rng, _ := s.UpsertPortRange(ctx, "shared", 9000, 9010)
	registerProject(t, s, "proj-a", rng)

	first, err := a.GetOrAllocate(ctx, "proj-a", "web", Options{})
	if err != nil {
		t.Fatalf("GetOrAllocate() error = %v", err)
	}

	second, err := a.GetOrAllocate(ctx, "proj-a", "web", Options{})
	if err != nil {
		t.Fatalf("second GetOrAllocate() error = %v", err)
	}
	if second.Port != first.Port {
		t.Errorf("GetOrAllocate() returned a different port on reuse: %d vs %d", second.Port, first.Port)
	}
}

func TestGetOrAllocateConcurrentCallersConverge(t *testing.T) {
	a, s := openTestAllocator(t)
	ctx := context.Background()
	rng, _ := s.UpsertPortRange(ctx, "shared", 9100, 9110)
	registerProject(t, s, "proj-a", rng)

	const callers = 8
	var wg sync.WaitGroup
	ports := make([]int, callers)
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			alloc, err := a.GetOrAllocate(ctx, "proj-a", "web", Options{})
			errs[i] = err
			if err == nil {
				ports[i] = alloc.Port
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: GetOrAllocate() error = %v", i, err)
		}
		if ports[i] != ports[0] {
			t.Errorf("caller %d got port %d, want %d (same as caller 0)", i, ports[i], ports[0])
		}
	}
}

func TestGetOrAllocateFailsWithoutAssignedRange(t *testing.T) {
	a, s := openTestAllocator(t)
	ctx := context.Background()
	if err := s.UpsertProject(ctx, &store.Project{Name: "proj-b", ToolsAllowed: []string{}}); err != nil {
		t.Fatalf("UpsertProject() error = %v", err)
	}

	_, err := a.GetOrAllocate(ctx, "proj-b", "web", Options{})
	if !domainerr.Is(err, domainerr.KindValidation) {
		t.Errorf("expected Validation kind for a project with no assigned range, got %v", domainerr.KindOf(err))
	}
}

func TestAllocateFailsOnDuplicate(t *testing.T) {
	a, s := openTestAllocator(t)
	ctx := context.Background()
	rng, _ := s.UpsertPortRange(ctx, "shared", 9000, 9010)
	registerProject(t, s, "proj-a", rng)

	if _, err := a.Allocate(ctx, "proj-a", "web", Options{}); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	_, err := a.Allocate(ctx, "proj-a", "web", Options{})
	if !domainerr.Is(err, domainerr.KindConflict) {
		t.Errorf("expected Conflict kind, got %v", domainerr.KindOf(err))
	}
}

func TestAuditReportsNotRunningWithoutMutatingState(t *testing.T) {
	a, s := openTestAllocator(t)
	ctx := context.Background()
	rng, _ := s.UpsertPortRange(ctx, "shared", 9500, 9510)
	registerProject(t, s, "proj-a", rng)

	alloc, err := a.Allocate(ctx, "proj-a", "web", Options{})
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	report, err := a.Audit(ctx, "proj-a")
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if len(report.NotRunning) != 1 {
		t.Errorf("NotRunning = %d entries, want 1 (nothing listens on %d)", len(report.NotRunning), alloc.Port)
	}

	still, err := s.GetActiveAllocation(ctx, "proj-a", "web")
	if err != nil {
		t.Fatalf("GetActiveAllocation() error = %v", err)
	}
	if still == nil || still.Status != "allocated" {
		t.Errorf("Audit() must not mutate allocation state, got %+v", still)
	}
}

func TestSummarizeComputesUtilization(t *testing.T) {
	a, s := openTestAllocator(t)
	ctx := context.Background()
	rng, _ := s.UpsertPortRange(ctx, "small", 9000, 9009)
	registerProject(t, s, "proj-a", rng)

	if _, err := a.Allocate(ctx, "proj-a", "web", Options{}); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	summary, err := a.Summarize(ctx, "proj-a", *rng)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Total != 10 || summary.Allocated != 1 || summary.Available != 9 {
		t.Errorf("Summarize() = %+v, want total=10 allocated=1 available=9", summary)
	}
}

package tunnelmon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/metasuper/core/internal/store"
)

type fakeLocator struct {
	pid     int32
	pingURL string
}

func (f *fakeLocator) PID() (int32, error) { return f.pid, nil }
func (f *fakeLocator) PingURL() string     { return f.pingURL }

func openTestMonitor(t *testing.T, locator ProcessLocator) (*Monitor, *store.Store) {
	t.Helper()
	s, err := store.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Init() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, locator), s
}

func TestTickRecordsUpWhenProcessAlive(t *testing.T) {
	m, s := openTestMonitor(t, &fakeLocator{pid: int32(os.Getpid())})
	m.tick(context.Background())

	sample, err := s.LatestTunnelHealth(context.Background())
	if err != nil {
		t.Fatalf("LatestTunnelHealth() error = %v", err)
	}
	if sample.Status != string(StateUp) {
		t.Errorf("expected status up, got %s", sample.Status)
	}
}

func TestThreeConsecutiveFailuresTransitionToDown(t *testing.T) {
	m, s := openTestMonitor(t, &fakeLocator{pid: -1})

	for i := 0; i < 3; i++ {
		m.tick(context.Background())
	}

	sample, err := s.LatestTunnelHealth(context.Background())
	if err != nil {
		t.Fatalf("LatestTunnelHealth() error = %v", err)
	}
	if sample.Status != string(StateDown) {
		t.Errorf("expected status down after 3 strikes, got %s", sample.Status)
	}
	if m.Current().Status != StateDown {
		t.Errorf("Current() snapshot should also report down, got %s", m.Current().Status)
	}
}

func TestRestartCountIncrementsOnRecovery(t *testing.T) {
	m, _ := openTestMonitor(t, &fakeLocator{pid: -1})
	for i := 0; i < 3; i++ {
		m.tick(context.Background())
	}
	m.mu.Lock()
	m.state = StateRestarting
	m.mu.Unlock()
	m.locator = &fakeLocator{pid: int32(os.Getpid())}

	m.tick(context.Background())

	if got := m.Current().RestartCount; got != 1 {
		t.Errorf("expected restart_count=1 after recovery from restarting, got %d", got)
	}
	if m.Current().Status != StateUp {
		t.Errorf("expected status up after recovery, got %s", m.Current().Status)
	}
}

func TestSubscribeReceivesStatusChange(t *testing.T) {
	m, _ := openTestMonitor(t, &fakeLocator{pid: -1})
	ch := m.Subscribe()

	for i := 0; i < 3; i++ {
		m.tick(context.Background())
	}

	select {
	case change := <-ch:
		if change.Status != StateDown {
			t.Errorf("expected down status change, got %s", change.Status)
		}
	default:
		t.Error("expected a status change to be published on transition to down")
	}
}

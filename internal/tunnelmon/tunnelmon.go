// Package tunnelmon implements component I: the tunnel health monitor.
// Its up/down/restarting state machine is grounded directly on the
// teacher's internal/node/circuit_breaker.go (closed/open/half-open,
// generalized here); its tick-loop/graceful-shutdown shape follows
// internal/jobs/worker.go. Liveness combines a process-existence check via
// github.com/shirou/gopsutil/v3/process with a lightweight HTTP ping, and
// every state transition is mirrored into Prometheus gauges/counters.
package tunnelmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/metasuper/core/internal/constants"
	"github.com/metasuper/core/internal/metrics"
	"github.com/metasuper/core/internal/store"
)

// State is one of the three tunnel health states (spec.md §4.I).
type State string

const (
	StateUp         State = constants.TunnelStateUp
	StateDown       State = constants.TunnelStateDown
	StateRestarting State = constants.TunnelStateRestarting
)

// StatusChange is the event published to subscribers on every transition
// (spec.md §4.I "Emits tunnel_status_change events to subscribers").
type StatusChange struct {
	Status       State
	UptimeS      int64
	RestartCount int
	LastError    string
	At           time.Time
}

// ProcessLocator resolves the cloudflared PID and an HTTP ping endpoint;
// it is a narrow seam so tests can fake the tunnel binary.
type ProcessLocator interface {
	PID() (int32, error)
	PingURL() string
}

// Monitor runs the health state machine for a single tunnel process.
type Monitor struct {
	store    *store.Store
	locator  ProcessLocator
	client   *http.Client
	signal   func(pid int32, sig syscall.Signal) error

	mu             sync.Mutex
	state          State
	consecutiveErr int
	restartCount   int
	startedAt      time.Time
	backoffLevel   int
	subscribers    []chan StatusChange
}

// New builds a Monitor for the tunnel resolved by locator.
func New(s *store.Store, locator ProcessLocator) *Monitor {
	return &Monitor{
		store:     s,
		locator:   locator,
		client:    &http.Client{Timeout: 3 * time.Second},
		signal:    killPID,
		state:     StateUp,
		startedAt: time.Now(),
	}
}

func killPID(pid int32, sig syscall.Signal) error {
	return syscall.Kill(int(pid), sig)
}

// Subscribe returns a channel that receives every future StatusChange.
// Callers (e.g. per-project RPC endpoints) must drain it promptly; the
// channel is buffered to tolerate brief stalls.
func (m *Monitor) Subscribe() <-chan StatusChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan StatusChange, 8)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Run ticks every TunnelHealthTickInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(constants.TunnelHealthTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, constants.ProberTickBudget)
			m.tick(tickCtx)
			cancel()
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	alive, pingErr := m.probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	var lastError string
	if !alive {
		m.consecutiveErr++
		if pingErr != nil {
			lastError = pingErr.Error()
		}
	} else {
		m.consecutiveErr = 0
	}

	prev := m.state
	switch {
	case alive && m.state != StateUp:
		m.state = StateUp
		if prev == StateRestarting {
			m.restartCount++
		}
		m.backoffLevel = 0
	case !alive && m.state == StateUp && m.consecutiveErr >= constants.TunnelFailureStrikes:
		m.state = StateDown
	case !alive && m.state == StateDown:
		go m.attemptRestart(context.Background())
	}

	uptime := int64(time.Since(m.startedAt).Seconds())
	if err := m.store.AppendTunnelHealth(ctx, string(m.state), uptime, m.restartCount, nullableString(lastError)); err != nil {
		slog.Error("failed to record tunnel health sample", "error", err)
	}

	m.updateMetrics()
	if m.state != prev {
		m.publish(StatusChange{Status: m.state, UptimeS: uptime, RestartCount: m.restartCount, LastError: lastError, At: time.Now()})
	}
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (m *Monitor) updateMetrics() {
	for _, s := range []State{StateUp, StateDown, StateRestarting} {
		v := 0.0
		if s == m.state {
			v = 1.0
		}
		metrics.TunnelState.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Monitor) publish(change StatusChange) {
	for _, ch := range m.subscribers {
		select {
		case ch <- change:
		default:
			slog.Warn("tunnel status subscriber channel full, dropping event")
		}
	}
}

// probe checks process liveness plus an HTTP ping, mirroring the teacher's
// layered health-check style.
func (m *Monitor) probe(ctx context.Context) (bool, error) {
	pid, err := m.locator.PID()
	if err != nil {
		return false, fmt.Errorf("cloudflared process not found: %w", err)
	}
	running, err := process.PidExists(pid)
	if err != nil || !running {
		return false, fmt.Errorf("cloudflared pid %d not running", pid)
	}

	url := m.locator.PingURL()
	if url == "" {
		return true, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("cloudflared ping returned status %d", resp.StatusCode)
	}
	return true, nil
}

// Reload sends the lighter-weight reload signal (SPEC_FULL.md §9 Open
// Question 2: SIGHUP) rather than a full recovery restart. If the process
// fails to report a successful tick within one monitor interval, the
// caller should fall back to Restart via the normal down-state escalation.
func (m *Monitor) Reload(ctx context.Context) error {
	pid, err := m.locator.PID()
	if err != nil {
		return fmt.Errorf("cloudflared process not found: %w", err)
	}
	if err := m.signal(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("send SIGHUP to cloudflared: %w", err)
	}
	slog.Info("sent reload signal to tunnel process", "pid", pid)
	return nil
}

// attemptRestart runs the exponential-backoff restart schedule (spec.md
// §4.I): graceful stop (terminate, wait 10s, then kill), then a fresh
// start attempt. The caller's locator is expected to actually spawn the
// new process; this method only manages timing and state.
func (m *Monitor) attemptRestart(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateRestarting {
		m.mu.Unlock()
		return
	}
	m.state = StateRestarting
	level := m.backoffLevel
	m.mu.Unlock()

	wait := backoffDelay(level)
	slog.Info("tunnel down, scheduling restart attempt", "backoff", wait)

	select {
	case <-ctx.Done():
		return
	case <-time.After(wait):
	}

	m.mu.Lock()
	if m.backoffLevel < len(constants.TunnelBackoffLevels)-1 {
		m.backoffLevel++
	}
	m.mu.Unlock()

	if pid, err := m.locator.PID(); err == nil {
		m.gracefulStop(pid)
	}
	metrics.TunnelRestartsTotal.Inc()
	slog.Info("tunnel restart attempt issued; next tick will confirm recovery")
}

// gracefulStop sends a terminate signal and waits TunnelGracefulStopWait
// before escalating to SIGKILL (spec.md §4.I).
func (m *Monitor) gracefulStop(pid int32) {
	_ = m.signal(pid, syscall.SIGTERM)
	deadline := time.Now().Add(constants.TunnelGracefulStopWait)
	for time.Now().Before(deadline) {
		if running, _ := process.PidExists(pid); !running {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	_ = m.signal(pid, syscall.SIGKILL)
}

func backoffDelay(level int) time.Duration {
	levels := constants.TunnelBackoffLevels
	if level < 0 {
		level = 0
	}
	if level >= len(levels) {
		level = len(levels) - 1
	}
	return levels[level]
}

// Snapshot returns the monitor's current observable state, for the
// RPC-surfaced tunnel status tool and GET /health.
type Snapshot struct {
	Status       State
	UptimeS      int64
	RestartCount int
}

// Current returns a point-in-time snapshot without waiting for a tick.
func (m *Monitor) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Status:       m.state,
		UptimeS:      int64(time.Since(m.startedAt).Seconds()),
		RestartCount: m.restartCount,
	}
}

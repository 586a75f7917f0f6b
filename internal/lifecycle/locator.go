package lifecycle

import (
	"os"
	"strconv"
	"strings"

	"github.com/metasuper/core/internal/domainerr"
)

// PIDFileLocator implements tunnelmon.ProcessLocator by reading the
// cloudflared PID from a file the supervisor writes when it launches the
// tunnel process, and pinging cloudflared's local metrics server if one is
// configured. This is the simplest locator the teacher's "one process per
// host, PID tracked on disk" deployment style supports; containerized
// cloudflared deployments would instead resolve the PID through component
// C's inventory, left as a future locator implementation.
type PIDFileLocator struct {
	PIDFilePath string
	MetricsURL  string
}

// PID reads and parses the tracked cloudflared PID.
func (l *PIDFileLocator) PID() (int32, error) {
	raw, err := os.ReadFile(l.PIDFilePath)
	if err != nil {
		return 0, domainerr.WrapInternal("read cloudflared pid file", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, domainerr.WrapInternal("parse cloudflared pid file", err)
	}
	return int32(pid), nil
}

// PingURL returns the configured metrics endpoint, or "" if none is set
// (the monitor treats an empty URL as "process check only").
func (l *PIDFileLocator) PingURL() string {
	return l.MetricsURL
}

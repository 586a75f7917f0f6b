// Package topology implements component C: a read-only poller over the
// Docker Engine API that keeps store.Store's containers/networks tables in
// sync. Grounded on the teacher's internal/jobs/worker.go ticker-poll loop
// (graceful-shutdown-with-timeout, tick-driven refresh); the Docker access
// itself is adapted away from the teacher's `docker compose` CLI shell-out
// (internal/docker/manager.go) to direct Engine API calls over the UNIX
// socket, since this component only needs read-only inventory, not full
// compose lifecycle management.
package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/sockets"

	"github.com/metasuper/core/internal/constants"
	"github.com/metasuper/core/internal/store"
)

const dockerAPIVersion = "v1.43"

// Prober polls the Docker Engine API on an interval and replaces the
// stored topology snapshot on every tick.
type Prober struct {
	store      *store.Store
	httpClient *http.Client
	interval   time.Duration
}

// New builds a Prober talking to the Docker daemon over socketPath.
func New(s *store.Store, socketPath string) (*Prober, error) {
	transport := &http.Transport{}
	if err := sockets.ConfigureTransport(transport, "unix", socketPath); err != nil {
		return nil, fmt.Errorf("configure docker socket transport: %w", err)
	}
	return &Prober{
		store:      s,
		httpClient: &http.Client{Transport: transport, Timeout: constants.HTTPClientTimeout},
		interval:   constants.TopologyProbeInterval,
	}, nil
}

// Run ticks until ctx is cancelled, replacing the stored snapshot on every
// successful poll. A failed poll is logged and skipped — stale data stays
// in place rather than being wiped on a transient Docker API error.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.tick(ctx); err != nil {
		slog.Warn("initial topology poll failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				slog.Error("topology poll failed", "error", err)
			}
		}
	}
}

func (p *Prober) tick(ctx context.Context) error {
	containers, err := p.listContainers(ctx)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	networks, err := p.listNetworks(ctx)
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}

	var storeContainers []*store.Container
	var memberships []*store.NetworkMembership
	var ports []*store.ContainerPort

	for _, c := range containers {
		name := containerName(c)
		storeContainers = append(storeContainers, &store.Container{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			Status:  c.State,
			Project: projectFor(c, name),
		})
		for netName, settings := range c.NetworkSettings.Networks {
			netID := networkIDByName(networks, netName)
			if netID == "" {
				continue
			}
			memberships = append(memberships, &store.NetworkMembership{
				ContainerID: c.ID, NetworkID: netID, IPAddress: settings.IPAddress,
			})
		}
		for _, port := range c.Ports {
			if port.PublicPort == 0 {
				continue
			}
			hostPort := port.PublicPort
			ports = append(ports, &store.ContainerPort{
				ContainerID: c.ID, InternalPort: port.PrivatePort, HostPort: &hostPort, Protocol: port.Type,
			})
		}
	}

	var storeNetworks []*store.Network
	for _, n := range networks {
		storeNetworks = append(storeNetworks, &store.Network{ID: n.ID, Name: n.Name, Driver: n.Driver})
	}

	return p.store.ReplaceTopology(ctx, storeContainers, storeNetworks, memberships, ports)
}

func containerName(c dockerContainer) string {
	if len(c.Names) == 0 {
		return c.ID
	}
	name := c.Names[0]
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}

func networkIDByName(networks []dockerNetwork, name string) string {
	for _, n := range networks {
		if n.Name == name {
			return n.ID
		}
	}
	return ""
}

// dockerContainer mirrors the subset of Docker's /containers/json response
// this component needs.
type dockerContainer struct {
	ID              string `json:"Id"`
	Names           []string
	Image           string
	State           string
	Labels          map[string]string
	Ports           []dockerPort
	NetworkSettings struct {
		Networks map[string]struct {
			IPAddress string
		}
	}
}

// projectFor resolves a container's owning project: the
// constants.ContainerProjectLabel Docker label if set, otherwise the
// segment of name before its first separator, otherwise unattributed.
func projectFor(c dockerContainer, name string) *string {
	if p := c.Labels[constants.ContainerProjectLabel]; p != "" {
		return &p
	}
	if i := strings.Index(name, constants.ContainerNamePrefixSep); i > 0 {
		prefix := name[:i]
		return &prefix
	}
	return nil
}

type dockerPort struct {
	PrivatePort int
	PublicPort  int
	Type        string
}

type dockerNetwork struct {
	ID     string `json:"Id"`
	Name   string
	Driver string
}

func (p *Prober) listContainers(ctx context.Context) ([]dockerContainer, error) {
	var out []dockerContainer
	if err := p.get(ctx, "/containers/json?all=true", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Prober) listNetworks(ctx context.Context) ([]dockerNetwork, error) {
	var out []dockerNetwork
	if err := p.get(ctx, "/networks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Prober) get(ctx context.Context, path string, out any) error {
	url := fmt.Sprintf("http://docker/%s%s", dockerAPIVersion, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("docker API returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsReachable reports whether target is reachable from the supervisor's
// network namespace: true if containerA and containerB share a Docker
// network, otherwise a bounded TCP probe (spec.md §4.C is_reachable).
func (p *Prober) IsReachable(ctx context.Context, sourceContainerID, targetContainerID, targetHost string, targetPort int) (bool, error) {
	if sourceContainerID != "" && targetContainerID != "" {
		shared, err := p.store.SharedNetworks(ctx, sourceContainerID, targetContainerID)
		if err != nil {
			return false, err
		}
		if len(shared) > 0 {
			return true, nil
		}
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(targetHost, strconv.Itoa(targetPort)), constants.LivenessProbeTimeout)
	if err != nil {
		return false, nil
	}
	conn.Close()
	return true, nil
}

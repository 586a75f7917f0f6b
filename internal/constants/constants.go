package constants

import "time"

// Port allocation status values
const (
	AllocationStatusAllocated = "allocated"
	AllocationStatusReleased  = "released"
)

// Target types for CNAME routing (component C/J)
const (
	TargetTypeLocalhost = "localhost"
	TargetTypeContainer = "container"
	TargetTypeExternal  = "external"
)

// Secret scopes
const (
	SecretScopeMeta    = "meta"
	SecretScopeProject = "project"
	SecretScopeService = "service"
)

// Tunnel health states (component I)
const (
	TunnelStateUp         = "up"
	TunnelStateDown       = "down"
	TunnelStateRestarting = "restarting"
)

// Port bounds
const (
	MinPort = 1
	MaxPort = 65535

	// SharedServicesRangeSize is the width of the shared-services pool (spec §6).
	SharedServicesRangeSize = 1000

	// ProjectRangeSize is the width of a project's dedicated range (spec §6).
	ProjectRangeSize = 100
)

// Timeout and interval constants
const (
	// HTTPClientTimeout bounds outbound calls to Cloudflare.
	HTTPClientTimeout = 10 * time.Second

	// ServerReadTimeout, ServerWriteTimeout, ServerIdleTimeout bound the RPC HTTP server.
	ServerReadTimeout  = 15 * time.Second
	ServerWriteTimeout = 30 * time.Second
	ServerIdleTimeout  = 120 * time.Second

	// TopologyProbeInterval is the topology prober's tick period (spec §4.C, ≈60s).
	TopologyProbeInterval = 60 * time.Second

	// TopologyStaleTicks: rows untouched for this many ticks are pruned (spec §3).
	TopologyStaleTicks = 2

	// LivenessProbeTimeout bounds a single TCP reachability check (spec §4.C/§5, ≤1s).
	LivenessProbeTimeout = 1 * time.Second

	// PortAuditProbeTimeout bounds the allocator's audit liveness probe (spec §4.F, 500ms).
	PortAuditProbeTimeout = 500 * time.Millisecond

	// TunnelHealthTickInterval is the health monitor's poll period (spec §4.I, 30s).
	TunnelHealthTickInterval = 30 * time.Second

	// TunnelFailureStrikes is the number of consecutive failed ticks before declaring "down" (spec §4.I).
	TunnelFailureStrikes = 3

	// TunnelGracefulStopWait is how long the monitor waits after a terminate signal before a hard kill.
	TunnelGracefulStopWait = 10 * time.Second

	// ZoneRefreshInterval is how often the Cloudflare zone cache is refreshed in the background (spec §4.E).
	ZoneRefreshInterval = 24 * time.Hour

	// RequestDeadline is the default per-RPC-request deadline (spec §5).
	RequestDeadline = 30 * time.Second

	// ShutdownDrainTimeout bounds graceful shutdown of in-flight RPC requests (spec §4.N).
	ShutdownDrainTimeout = 20 * time.Second

	// ProberTickBudget is the hard per-tick budget for background loops (spec §5).
	ProberTickBudget = 5 * time.Second
)

// TunnelBackoffLevels is the fixed exponential-backoff restart schedule (spec §4.I).
// After the last level the monitor holds steady at that interval with unlimited retries.
var TunnelBackoffLevels = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// Key-path grammar (spec §3/§6): ^(meta|project|service)/[a-z0-9_-]+/[a-z0-9_-]+$
const KeyPathPattern = `^(meta|project|service)/[a-z0-9_-]+/[a-z0-9_-]+$`

// MinSecretDescriptionLength is the minimum length for a secret's human description (spec §3).
const MinSecretDescriptionLength = 10

// Redaction formatting (spec §4.H): first 4 + ellipsis + last 4.
const (
	RedactionPrefixLen = 4
	RedactionSuffixLen = 4
	RedactionEllipsis  = "…"
)

// Catch-all ingress rule service marker (spec §4.D/§6).
const IngressCatchAllService = "http_status:404"

// Container project attribution (spec §3): a container's owning project is
// read from this Docker label first, falling back to a name prefix.
const (
	ContainerProjectLabel  = "com.supervisor.project"
	ContainerNamePrefixSep = "-"
)

// Cloudflare DNS record shape for CNAMEs created by component J (spec §6).
const (
	CloudflareCNAMEType       = "CNAME"
	CloudflareCNAMEContentFmt = "%s.cfargotunnel.com"
)

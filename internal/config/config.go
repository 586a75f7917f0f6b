// Package config loads the control plane's configuration from environment
// variables, following the teacher's getEnv()-with-defaults pattern. Per
// spec.md §6, only a handful of values are read from the environment; all
// other configuration (the project list) lives in files.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/metasuper/core/internal/domainerr"
)

// Config holds the supervisor's process-wide configuration.
type Config struct {
	// ServerAddress is the "host:port" the RPC HTTP listener binds to,
	// assembled from PORT/HOST per spec.md §6.
	ServerAddress string

	// DatabasePath is the SQLite file backing component B.
	DatabasePath string

	// ProjectsConfigPath points at the file listing project configs
	// (name, path, port range name, allowed tools) that M loads at startup.
	ProjectsConfigPath string

	// PortRangesConfigPath points at the file listing the named port ranges
	// F allocates from, loaded into B once at startup (spec.md §3 PortRange).
	PortRangesConfigPath string

	// IngressFilePath is the tunnel YAML config file component D owns.
	IngressFilePath string

	// TunnelID is this host's Cloudflare tunnel identifier (spec.md §6).
	TunnelID string

	// TunnelCredentialsFile is the cloudflared-issued JSON credentials file
	// referenced from the ingress document's credentials-file field.
	TunnelCredentialsFile string

	// CryptoKeyPath points at the out-of-band file holding the 32-byte
	// process-wide secret component A loads once at startup.
	CryptoKeyPath string

	// DockerSocketPath is the UNIX socket component C polls for container
	// inventory (spec.md §4.C).
	DockerSocketPath string

	// CloudflaredPIDFile and CloudflaredMetricsURL locate the tunnel
	// process and its local ping endpoint for component I's liveness probe.
	CloudflaredPIDFile    string
	CloudflaredMetricsURL string

	Cloudflare  CloudflareConfig
	Auth        AuthConfig
	Environment string
}

// CloudflareConfig holds Cloudflare API credentials for component E.
type CloudflareConfig struct {
	APIToken  string
	AccountID string
}

// AuthConfig holds the bolt-on RPC bearer-token auth described in
// SPEC_FULL.md §9 Open Question 1.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

// Load reads configuration from the environment, applying the same
// default-with-override pattern as the teacher's config loader.
func Load() (*Config, error) {
	host := getEnv("HOST", "0.0.0.0")
	port := getEnv("PORT", "8080")

	cryptoKeyPath := getEnv("CRYPTO_KEY_PATH", "./data/crypto.key")

	authEnabled := getEnv("AUTH_ENABLED", "true") == "true"
	jwtSecret := os.Getenv("JWT_SECRET")
	if authEnabled && jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required when AUTH_ENABLED is true")
	}

	tunnelID := os.Getenv("TUNNEL_ID")
	apiToken := os.Getenv("CLOUDFLARE_API_TOKEN")
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	if apiToken == "" || accountID == "" {
		return nil, domainerr.WrapValidation("CLOUDFLARE_API_TOKEN and CLOUDFLARE_ACCOUNT_ID are required", nil)
	}

	cfg := &Config{
		ServerAddress:         fmt.Sprintf("%s:%s", host, port),
		DatabasePath:          getEnv("DATABASE_PATH", "./data/supervisor.db"),
		ProjectsConfigPath:    getEnv("PROJECTS_CONFIG_PATH", "./config/projects.yaml"),
		PortRangesConfigPath:  getEnv("PORT_RANGES_CONFIG_PATH", "./config/port_ranges.yaml"),
		IngressFilePath:       getEnv("INGRESS_FILE_PATH", "./config/ingress.yaml"),
		TunnelID:              tunnelID,
		TunnelCredentialsFile: getEnv("TUNNEL_CREDENTIALS_FILE", "./data/cloudflared-credentials.json"),
		CryptoKeyPath:         cryptoKeyPath,
		DockerSocketPath:      getEnv("DOCKER_SOCKET_PATH", "/var/run/docker.sock"),
		CloudflaredPIDFile:    getEnv("CLOUDFLARED_PID_FILE", "./data/cloudflared.pid"),
		CloudflaredMetricsURL: getEnv("CLOUDFLARED_METRICS_URL", ""),
		Cloudflare: CloudflareConfig{
			APIToken:  apiToken,
			AccountID: accountID,
		},
		Auth: AuthConfig{
			Enabled:   authEnabled,
			JWTSecret: jwtSecret,
		},
		Environment: getEnv("APP_ENV", "production"),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

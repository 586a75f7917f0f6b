package config

import (
	"os"
	"testing"
)

func clearConfigEnv() {
	for _, k := range []string{
		"HOST", "PORT", "DATABASE_PATH", "PROJECTS_CONFIG_PATH", "INGRESS_FILE_PATH",
		"TUNNEL_ID", "CRYPTO_KEY_PATH", "CLOUDFLARE_API_TOKEN", "CLOUDFLARE_ACCOUNT_ID",
		"AUTH_ENABLED", "JWT_SECRET", "APP_ENV",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv()
	defer clearConfigEnv()

	os.Setenv("CLOUDFLARE_API_TOKEN", "tok")
	os.Setenv("CLOUDFLARE_ACCOUNT_ID", "acct")
	os.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerAddress != "0.0.0.0:8080" {
		t.Errorf("ServerAddress = %s, want 0.0.0.0:8080", cfg.ServerAddress)
	}
	if cfg.DatabasePath != "./data/supervisor.db" {
		t.Errorf("DatabasePath = %s", cfg.DatabasePath)
	}
	if !cfg.Auth.Enabled {
		t.Errorf("Auth.Enabled = false, want true by default")
	}
}

func TestLoadRequiresCloudflareCredentials(t *testing.T) {
	clearConfigEnv()
	defer clearConfigEnv()

	if _, err := Load(); err == nil {
		t.Fatal("expected error when Cloudflare credentials are missing")
	}
}

func TestLoadRequiresJWTSecretWhenAuthEnabled(t *testing.T) {
	clearConfigEnv()
	defer clearConfigEnv()

	os.Setenv("CLOUDFLARE_API_TOKEN", "tok")
	os.Setenv("CLOUDFLARE_ACCOUNT_ID", "acct")
	os.Setenv("AUTH_ENABLED", "true")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when AUTH_ENABLED=true but JWT_SECRET is unset")
	}
}

func TestLoadCustomEnv(t *testing.T) {
	clearConfigEnv()
	defer clearConfigEnv()

	os.Setenv("HOST", "127.0.0.1")
	os.Setenv("PORT", "9000")
	os.Setenv("DATABASE_PATH", "/custom/db.sqlite")
	os.Setenv("CLOUDFLARE_API_TOKEN", "test-token")
	os.Setenv("CLOUDFLARE_ACCOUNT_ID", "test-account")
	os.Setenv("JWT_SECRET", "custom-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerAddress != "127.0.0.1:9000" {
		t.Errorf("ServerAddress = %s, want 127.0.0.1:9000", cfg.ServerAddress)
	}
	if cfg.DatabasePath != "/custom/db.sqlite" {
		t.Errorf("DatabasePath = %s", cfg.DatabasePath)
	}
	if cfg.Cloudflare.APIToken != "test-token" {
		t.Errorf("Cloudflare.APIToken = %s", cfg.Cloudflare.APIToken)
	}
}

func TestGetEnv(t *testing.T) {
	key := "TEST_GET_ENV"
	os.Setenv(key, "test-value")
	defer os.Unsetenv(key)

	if got := getEnv(key, "default"); got != "test-value" {
		t.Errorf("getEnv() = %s, want test-value", got)
	}

	os.Unsetenv(key)
	if got := getEnv(key, "default"); got != "default" {
		t.Errorf("getEnv() = %s, want default", got)
	}

	os.Setenv(key, "")
	if got := getEnv(key, "default"); got != "default" {
		t.Errorf("getEnv() with empty value = %s, want default", got)
	}
}

// Package store implements component B, the relational store: transactional
// CRUD for every entity in spec.md §3 plus the two primitives the port
// allocator needs. Grounded on the teacher's internal/db/db.go: same
// pure-Go SQLite driver, same WAL pragma set, same ordered-migration-slice
// shape tolerant of re-application.
package store

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps the database connection and exposes entity-scoped methods
// defined across the other files in this package.
type Store struct {
	*sql.DB
	path string
}

// Init opens (creating if necessary) the SQLite database at path, applies
// reliability pragmas, and runs the migration set.
func Init(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	// _txlock=immediate takes the write lock at BEGIN rather than at the
	// first write statement, so a concurrent BeginTx blocks (via
	// busy_timeout) until the winner commits and then reads its result,
	// instead of racing it on a stale read snapshot.
	sqlDB, err := sql.Open("sqlite", path+"?_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	s := &Store{DB: sqlDB, path: path}

	if err := s.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.Exec(p); err != nil {
			slog.Error("failed to set pragma", "pragma", p, "error", err)
			return err
		}
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			name TEXT PRIMARY KEY,
			port_range_id TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			tools_allowed TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS port_ranges (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			start INTEGER NOT NULL,
			end_port INTEGER NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS port_allocations (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			service_name TEXT NOT NULL,
			port INTEGER NOT NULL,
			service_type TEXT NOT NULL DEFAULT '',
			host TEXT NOT NULL DEFAULT 'localhost',
			protocol TEXT NOT NULL DEFAULT 'tcp',
			status TEXT NOT NULL DEFAULT 'allocated',
			cloudflare_hostname TEXT,
			allocated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			released_at DATETIME,
			UNIQUE(project, service_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_port_allocations_active ON port_allocations(host, protocol, port) WHERE status = 'allocated'`,
		`CREATE TABLE IF NOT EXISTS secrets (
			key_path TEXT PRIMARY KEY,
			ciphertext BLOB NOT NULL,
			iv BLOB NOT NULL,
			auth_tag BLOB NOT NULL,
			description TEXT NOT NULL,
			scope TEXT NOT NULL,
			project TEXT,
			service TEXT,
			expires_at DATETIME,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed DATETIME,
			needs_rotation INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS secret_access_log (
			id TEXT PRIMARY KEY,
			key_path TEXT NOT NULL,
			accessed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			success INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cf_zones (
			domain TEXT PRIMARY KEY,
			zone_id TEXT NOT NULL,
			last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cnames (
			subdomain TEXT NOT NULL,
			domain TEXT NOT NULL,
			full_hostname TEXT NOT NULL,
			target_service TEXT NOT NULL,
			target_type TEXT NOT NULL,
			container_name TEXT,
			docker_network TEXT,
			project TEXT NOT NULL,
			cloudflare_record_id TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(subdomain, domain)
		)`,
		`CREATE TABLE IF NOT EXISTS tunnel_health (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			status TEXT NOT NULL,
			uptime_s INTEGER NOT NULL DEFAULT 0,
			restart_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tunnel_health_timestamp ON tunnel_health(timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action TEXT NOT NULL,
			project TEXT,
			details_json TEXT NOT NULL DEFAULT '{}',
			success INTEGER NOT NULL,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS containers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			image TEXT NOT NULL,
			status TEXT NOT NULL,
			project TEXT,
			last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS networks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			driver TEXT NOT NULL,
			last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS container_networks (
			container_id TEXT NOT NULL,
			network_id TEXT NOT NULL,
			ip_address TEXT,
			last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(container_id, network_id)
		)`,
		`CREATE TABLE IF NOT EXISTS container_ports (
			container_id TEXT NOT NULL,
			internal_port INTEGER NOT NULL,
			host_port INTEGER,
			protocol TEXT NOT NULL DEFAULT 'tcp',
			last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(container_id, internal_port, protocol)
		)`,
		// idempotent ALTER TABLE additions go here as the schema evolves,
		// tolerated by isDuplicateColumnError below.
		`ALTER TABLE secrets ADD COLUMN needs_rotation INTEGER NOT NULL DEFAULT 0`,
	}

	for _, migration := range migrations {
		if _, err := s.Exec(migration); err != nil {
			if isDuplicateColumnError(err) {
				slog.Debug("skipping migration, column already exists", "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}

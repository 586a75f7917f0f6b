package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/metasuper/core/internal/domainerr"
)

// Secret mirrors spec.md §3's Secret entity. Plaintext never appears here —
// only the sealed ciphertext pieces component A produced.
type Secret struct {
	KeyPath       string
	Ciphertext    []byte
	IV            []byte
	AuthTag       []byte
	Description   string
	Scope         string
	Project       *string
	Service       *string
	ExpiresAt     *time.Time
	AccessCount   int
	LastAccessed  *time.Time
	NeedsRotation bool
	CreatedAt     time.Time
}

// PutSecret inserts or replaces a secret row (component G's `set`).
func (s *Store) PutSecret(ctx context.Context, sec *Secret) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO secrets (key_path, ciphertext, iv, auth_tag, description, scope, project, service, expires_at, access_count, needs_rotation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(key_path) DO UPDATE SET
			ciphertext = excluded.ciphertext, iv = excluded.iv, auth_tag = excluded.auth_tag,
			description = excluded.description, expires_at = excluded.expires_at
	`, sec.KeyPath, sec.Ciphertext, sec.IV, sec.AuthTag, sec.Description, sec.Scope, sec.Project, sec.Service, sec.ExpiresAt)
	if err != nil {
		return domainerr.WrapInternal("put secret", err)
	}
	return nil
}

// GetSecretForRead returns the sealed secret row for decryption, without
// bumping the access counter — the caller does that atomically alongside
// the access log insert via RecordSecretAccess.
func (s *Store) GetSecretForRead(ctx context.Context, keyPath string) (*Secret, error) {
	row := s.QueryRowContext(ctx, `
		SELECT key_path, ciphertext, iv, auth_tag, description, scope, project, service, expires_at, access_count, last_accessed, needs_rotation, created_at
		FROM secrets WHERE key_path = ?
	`, keyPath)
	return scanSecret(row)
}

func scanSecret(row *sql.Row) (*Secret, error) {
	var sec Secret
	var project, service sql.NullString
	var expiresAt, lastAccessed sql.NullTime
	var needsRotation int
	if err := row.Scan(&sec.KeyPath, &sec.Ciphertext, &sec.IV, &sec.AuthTag, &sec.Description, &sec.Scope,
		&project, &service, &expiresAt, &sec.AccessCount, &lastAccessed, &needsRotation, &sec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerr.WrapNotFound("secret", err)
		}
		return nil, domainerr.WrapInternal("scan secret", err)
	}
	if project.Valid {
		sec.Project = &project.String
	}
	if service.Valid {
		sec.Service = &service.String
	}
	if expiresAt.Valid {
		sec.ExpiresAt = &expiresAt.Time
	}
	if lastAccessed.Valid {
		sec.LastAccessed = &lastAccessed.Time
	}
	sec.NeedsRotation = needsRotation != 0
	return &sec, nil
}

// RecordSecretAccess increments access_count/last_accessed and appends a
// row to secret_access_log, in one transaction (spec.md §4.G invariant:
// every `get` appends to the access log with a success flag).
func (s *Store) RecordSecretAccess(ctx context.Context, keyPath string, success bool) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return domainerr.WrapInternal("begin transaction", err)
	}
	defer tx.Rollback()

	if success {
		if _, err := tx.ExecContext(ctx, `
			UPDATE secrets SET access_count = access_count + 1, last_accessed = CURRENT_TIMESTAMP WHERE key_path = ?
		`, keyPath); err != nil {
			return domainerr.WrapInternal("bump access count", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO secret_access_log (id, key_path, success) VALUES (lower(hex(randomblob(16))), ?, ?)
	`, keyPath, boolToInt(success)); err != nil {
		return domainerr.WrapInternal("insert access log", err)
	}

	return tx.Commit()
}

// DeleteSecret removes a secret row. Idempotent.
func (s *Store) DeleteSecret(ctx context.Context, keyPath string) error {
	if _, err := s.ExecContext(ctx, `DELETE FROM secrets WHERE key_path = ?`, keyPath); err != nil {
		return domainerr.WrapInternal("delete secret", err)
	}
	return nil
}

// SecretFilter narrows ListSecrets; zero-value fields are ignored.
type SecretFilter struct {
	Project string
	Service string
	Scope   string
}

// SecretMeta is the metadata-only view ListSecrets returns — never the
// plaintext or even the ciphertext (spec.md §4.G: "returns metadata only").
type SecretMeta struct {
	KeyPath       string
	Description   string
	Scope         string
	Project       *string
	Service       *string
	ExpiresAt     *time.Time
	AccessCount   int
	LastAccessed  *time.Time
	NeedsRotation bool
}

// ListSecrets returns metadata for secrets matching filter.
func (s *Store) ListSecrets(ctx context.Context, filter SecretFilter) ([]*SecretMeta, error) {
	query := `SELECT key_path, description, scope, project, service, expires_at, access_count, last_accessed, needs_rotation FROM secrets WHERE 1=1`
	var args []any
	if filter.Project != "" {
		query += " AND project = ?"
		args = append(args, filter.Project)
	}
	if filter.Service != "" {
		query += " AND service = ?"
		args = append(args, filter.Service)
	}
	if filter.Scope != "" {
		query += " AND scope = ?"
		args = append(args, filter.Scope)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domainerr.WrapInternal("list secrets", err)
	}
	defer rows.Close()

	var out []*SecretMeta
	for rows.Next() {
		var m SecretMeta
		var project, service sql.NullString
		var expiresAt, lastAccessed sql.NullTime
		var needsRotation int
		if err := rows.Scan(&m.KeyPath, &m.Description, &m.Scope, &project, &service, &expiresAt, &m.AccessCount, &lastAccessed, &needsRotation); err != nil {
			return nil, domainerr.WrapInternal("scan secret meta", err)
		}
		if project.Valid {
			m.Project = &project.String
		}
		if service.Valid {
			m.Service = &service.String
		}
		if expiresAt.Valid {
			m.ExpiresAt = &expiresAt.Time
		}
		if lastAccessed.Valid {
			m.LastAccessed = &lastAccessed.Time
		}
		m.NeedsRotation = needsRotation != 0
		out = append(out, &m)
	}
	return out, nil
}

// ListExpiringSoon returns secrets whose expires_at falls within the next
// `days` days (component G's get_expiring_soon).
func (s *Store) ListExpiringSoon(ctx context.Context, days int) ([]*SecretMeta, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT key_path, description, scope, project, service, expires_at, access_count, last_accessed, needs_rotation
		FROM secrets WHERE expires_at IS NOT NULL AND expires_at <= datetime('now', ? || ' days')
	`, days)
	if err != nil {
		return nil, domainerr.WrapInternal("list expiring secrets", err)
	}
	defer rows.Close()
	return scanSecretMetaRows(rows)
}

// ListNeedingRotation returns secrets flagged for rotation.
func (s *Store) ListNeedingRotation(ctx context.Context) ([]*SecretMeta, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT key_path, description, scope, project, service, expires_at, access_count, last_accessed, needs_rotation
		FROM secrets WHERE needs_rotation = 1
	`)
	if err != nil {
		return nil, domainerr.WrapInternal("list rotation-needed secrets", err)
	}
	defer rows.Close()
	return scanSecretMetaRows(rows)
}

// MarkForRotation flips needs_rotation on a secret.
func (s *Store) MarkForRotation(ctx context.Context, keyPath string) error {
	res, err := s.ExecContext(ctx, `UPDATE secrets SET needs_rotation = 1 WHERE key_path = ?`, keyPath)
	if err != nil {
		return domainerr.WrapInternal("mark for rotation", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domainerr.WrapNotFound("secret", nil)
	}
	return nil
}

func scanSecretMetaRows(rows *sql.Rows) ([]*SecretMeta, error) {
	var out []*SecretMeta
	for rows.Next() {
		var m SecretMeta
		var project, service sql.NullString
		var expiresAt, lastAccessed sql.NullTime
		var needsRotation int
		if err := rows.Scan(&m.KeyPath, &m.Description, &m.Scope, &project, &service, &expiresAt, &m.AccessCount, &lastAccessed, &needsRotation); err != nil {
			return nil, domainerr.WrapInternal("scan secret meta", err)
		}
		if project.Valid {
			m.Project = &project.String
		}
		if service.Valid {
			m.Service = &service.String
		}
		if expiresAt.Valid {
			m.ExpiresAt = &expiresAt.Time
		}
		if lastAccessed.Valid {
			m.LastAccessed = &lastAccessed.Time
		}
		m.NeedsRotation = needsRotation != 0
		out = append(out, &m)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

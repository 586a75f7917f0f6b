// Package secrets implements component G: hierarchical keyed secret storage
// over component A (crypto.Box) and component B (store.Store). Plaintext
// exists only inside Set/Get's call stack; everything persisted or listed
// is ciphertext or metadata.
package secrets

import (
	"context"
	"time"

	"github.com/metasuper/core/internal/constants"
	"github.com/metasuper/core/internal/crypto"
	"github.com/metasuper/core/internal/domainerr"
	"github.com/metasuper/core/internal/store"
	"github.com/metasuper/core/internal/valueobjects"
)

// Manager is the public API for component G.
type Manager struct {
	store *store.Store
	box   *crypto.Box
}

// New builds a Manager over an initialized Store and crypto Box.
func New(s *store.Store, box *crypto.Box) *Manager {
	return &Manager{store: s, box: box}
}

// SetOptions carries the optional fields a caller can attach to a secret.
type SetOptions struct {
	Scope     string
	Project   *string
	Service   *string
	ExpiresAt *time.Time
}

// Set validates key_path and description, seals plaintext, and persists it.
func (m *Manager) Set(ctx context.Context, keyPath, plaintext, description string, opts SetOptions) error {
	kp, err := valueobjects.NewKeyPath(keyPath)
	if err != nil {
		return err
	}
	if len(description) < constants.MinSecretDescriptionLength {
		return domainerr.WrapValidation("description must be at least 10 characters", nil)
	}
	if opts.Scope != "" && opts.Scope != constants.SecretScopeMeta && opts.Scope != constants.SecretScopeProject && opts.Scope != constants.SecretScopeService {
		return domainerr.WrapValidation("scope must be meta, project, or service", nil)
	}

	sealed, err := m.box.Encrypt([]byte(plaintext))
	if err != nil {
		return domainerr.WrapInternal("seal secret", err)
	}

	scope := opts.Scope
	if scope == "" {
		scope = kp.Scope()
	}

	return m.store.PutSecret(ctx, &store.Secret{
		KeyPath:     kp.String(),
		Ciphertext:  sealed.Ciphertext,
		IV:          sealed.IV,
		AuthTag:     sealed.AuthTag,
		Description: description,
		Scope:       scope,
		Project:     opts.Project,
		Service:     opts.Service,
		ExpiresAt:   opts.ExpiresAt,
	})
}

// Get decrypts and returns the plaintext for key_path, logging the access
// (success or failure) to the access log either way.
func (m *Manager) Get(ctx context.Context, keyPath string) (string, error) {
	sec, err := m.store.GetSecretForRead(ctx, keyPath)
	if err != nil {
		return "", err
	}

	plaintext, decErr := m.box.Decrypt(crypto.Sealed{IV: sec.IV, Ciphertext: sec.Ciphertext, AuthTag: sec.AuthTag})
	if logErr := m.store.RecordSecretAccess(ctx, keyPath, decErr == nil); logErr != nil {
		return "", domainerr.WrapInternal("record secret access", logErr)
	}
	if decErr != nil {
		return "", decErr
	}
	return string(plaintext), nil
}

// Delete removes a secret. Idempotent.
func (m *Manager) Delete(ctx context.Context, keyPath string) error {
	return m.store.DeleteSecret(ctx, keyPath)
}

// List returns metadata only — never plaintext or ciphertext — for secrets
// matching filter.
func (m *Manager) List(ctx context.Context, filter store.SecretFilter) ([]*store.SecretMeta, error) {
	return m.store.ListSecrets(ctx, filter)
}

// ExpiringSoon returns secrets expiring within the next `days` days.
func (m *Manager) ExpiringSoon(ctx context.Context, days int) ([]*store.SecretMeta, error) {
	return m.store.ListExpiringSoon(ctx, days)
}

// NeedingRotation returns secrets flagged for rotation.
func (m *Manager) NeedingRotation(ctx context.Context) ([]*store.SecretMeta, error) {
	return m.store.ListNeedingRotation(ctx)
}

// MarkForRotation flags a secret for rotation.
func (m *Manager) MarkForRotation(ctx context.Context, keyPath string) error {
	return m.store.MarkForRotation(ctx, keyPath)
}

package store

import (
	"context"
	"testing"
)

func TestSecretSetGetAccessLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sec := &Secret{
		KeyPath:     "project/blog/db_url",
		Ciphertext:  []byte("cipher"),
		IV:          []byte("iv"),
		AuthTag:     []byte("tag"),
		Description: "database connection string for blog",
		Scope:       "project",
	}
	if err := s.PutSecret(ctx, sec); err != nil {
		t.Fatalf("PutSecret() error = %v", err)
	}

	got, err := s.GetSecretForRead(ctx, sec.KeyPath)
	if err != nil {
		t.Fatalf("GetSecretForRead() error = %v", err)
	}
	if string(got.Ciphertext) != "cipher" {
		t.Errorf("Ciphertext = %q, want %q", got.Ciphertext, "cipher")
	}
	if got.AccessCount != 0 {
		t.Errorf("AccessCount = %d, want 0 before any access", got.AccessCount)
	}

	if err := s.RecordSecretAccess(ctx, sec.KeyPath, true); err != nil {
		t.Fatalf("RecordSecretAccess() error = %v", err)
	}

	got, err = s.GetSecretForRead(ctx, sec.KeyPath)
	if err != nil {
		t.Fatalf("GetSecretForRead() error = %v", err)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1 after access", got.AccessCount)
	}
	if got.LastAccessed == nil {
		t.Error("expected LastAccessed to be set")
	}
}

func TestListSecretsFiltersByProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	blog := "blog"
	shop := "shop"
	if err := s.PutSecret(ctx, &Secret{KeyPath: "project/blog/a", Description: "secret a for blog", Scope: "project", Project: &blog}); err != nil {
		t.Fatalf("PutSecret() error = %v", err)
	}
	if err := s.PutSecret(ctx, &Secret{KeyPath: "project/shop/b", Description: "secret b for shop", Scope: "project", Project: &shop}); err != nil {
		t.Fatalf("PutSecret() error = %v", err)
	}

	got, err := s.ListSecrets(ctx, SecretFilter{Project: "blog"})
	if err != nil {
		t.Fatalf("ListSecrets() error = %v", err)
	}
	if len(got) != 1 || got[0].KeyPath != "project/blog/a" {
		t.Errorf("ListSecrets(project=blog) = %+v, want one entry for project/blog/a", got)
	}
}

func TestMarkForRotation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutSecret(ctx, &Secret{KeyPath: "meta/root/token", Description: "root api token", Scope: "meta"}); err != nil {
		t.Fatalf("PutSecret() error = %v", err)
	}
	if err := s.MarkForRotation(ctx, "meta/root/token"); err != nil {
		t.Fatalf("MarkForRotation() error = %v", err)
	}

	rotating, err := s.ListNeedingRotation(ctx)
	if err != nil {
		t.Fatalf("ListNeedingRotation() error = %v", err)
	}
	if len(rotating) != 1 {
		t.Errorf("ListNeedingRotation() returned %d entries, want 1", len(rotating))
	}

	if err := s.MarkForRotation(ctx, "meta/does-not-exist"); err == nil {
		t.Error("expected error marking a nonexistent secret for rotation")
	}
}

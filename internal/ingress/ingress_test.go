package ingress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/metasuper/core/internal/domainerr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingress.yaml")
	if err := Bootstrap(path, "tunnel-uuid", "/etc/cloudflared/creds.json"); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	m, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestBootstrapEndsWithCatchAll(t *testing.T) {
	m := newTestManager(t)
	doc, err := m.Document()
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	last := doc.Ingress[len(doc.Ingress)-1]
	if last.Hostname != "" || last.Service != "http_status:404" {
		t.Errorf("bootstrap document does not end with catch-all: %+v", last)
	}
}

func TestAddInsertsBeforeCatchAll(t *testing.T) {
	m := newTestManager(t)
	if err := m.Add("app.example.com", "http://localhost:3100", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	doc, err := m.Document()
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if len(doc.Ingress) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(doc.Ingress))
	}
	if doc.Ingress[0].Hostname != "app.example.com" {
		t.Errorf("new rule not inserted first, got %+v", doc.Ingress[0])
	}
	last := doc.Ingress[len(doc.Ingress)-1]
	if last.Service != "http_status:404" {
		t.Errorf("catch-all no longer last: %+v", last)
	}
}

func TestAddRejectsDuplicateHostname(t *testing.T) {
	m := newTestManager(t)
	if err := m.Add("app.example.com", "http://localhost:3100", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	err := m.Add("app.example.com", "http://localhost:3200", nil)
	if !domainerr.Is(err, domainerr.KindConflict) {
		t.Errorf("expected Conflict kind, got %v", domainerr.KindOf(err))
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	if err := m.Add("app.example.com", "http://localhost:3100", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := m.Remove("app.example.com"); err != nil {
		t.Fatalf("first Remove() error = %v", err)
	}
	if err := m.Remove("app.example.com"); err != nil {
		t.Fatalf("second Remove() should be a no-op, got error = %v", err)
	}

	doc, _ := m.Document()
	if len(doc.Ingress) != 1 {
		t.Errorf("expected only the catch-all to remain, got %d rules", len(doc.Ingress))
	}
}

func TestWriteLeavesFileUnchangedOnValidationFailure(t *testing.T) {
	m := newTestManager(t)
	before, err := os.ReadFile(m.path)
	if err != nil {
		t.Fatalf("read ingress file: %v", err)
	}

	// Force a document that fails validate(): no catch-all at all.
	doc, err := m.Document()
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	doc.Ingress = nil

	m.mu.Lock()
	err = m.writeWithRollback(doc)
	m.mu.Unlock()
	if err == nil {
		t.Fatal("expected writeWithRollback to fail on an empty ingress list")
	}

	after, err := os.ReadFile(m.path)
	if err != nil {
		t.Fatalf("read ingress file after rollback: %v", err)
	}
	if string(before) != string(after) {
		t.Errorf("ingress file changed despite validation failure:\nbefore=%s\nafter=%s", before, after)
	}
}

func TestOnChangeFiresOnSuccessfulWrite(t *testing.T) {
	m := newTestManager(t)
	fired := false
	m.OnChange(func() { fired = true })

	if err := m.Add("app.example.com", "http://localhost:3100", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !fired {
		t.Error("expected OnChange callback to fire after a successful Add")
	}
}

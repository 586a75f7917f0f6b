package cfclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateCNAMESendsBearerAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body dnsRecordRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Content != "tunnel-123.cfargotunnel.com" {
			t.Errorf("Content = %q, want tunnel-123.cfargotunnel.com", body.Content)
		}
		_ = json.NewEncoder(w).Encode(envelope[Record]{Success: true, Result: Record{ID: "rec-1", Name: body.Name}})
	}))
	defer srv.Close()

	c := New(Credentials{APIToken: "test-token", AccountID: "acct"})
	c.baseURL = srv.URL

	rec, err := c.CreateCNAME(context.Background(), "zone-1", "blog.example.com", "tunnel-123")
	if err != nil {
		t.Fatalf("CreateCNAME() error = %v", err)
	}
	if rec.ID != "rec-1" {
		t.Errorf("Record.ID = %q, want rec-1", rec.ID)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization header = %q, want Bearer test-token", gotAuth)
	}
}

func TestCreateASendsIPv4Content(t *testing.T) {
	var gotBody dnsRecordRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(envelope[Record]{Success: true, Result: Record{ID: "rec-2", Name: gotBody.Name}})
	}))
	defer srv.Close()

	c := New(Credentials{APIToken: "t"})
	c.baseURL = srv.URL

	rec, err := c.CreateA(context.Background(), "zone-1", "app.example.com", "203.0.113.10")
	if err != nil {
		t.Fatalf("CreateA() error = %v", err)
	}
	if rec.ID != "rec-2" {
		t.Errorf("Record.ID = %q, want rec-2", rec.ID)
	}
	if gotBody.Type != "A" || gotBody.Content != "203.0.113.10" {
		t.Errorf("request body = %+v, want type A content 203.0.113.10", gotBody)
	}
}

func TestRetriesOn429ThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(envelope[[]Zone]{Success: true, Result: []Zone{{ID: "z1", Name: "example.com"}}})
	}))
	defer srv.Close()

	c := New(Credentials{APIToken: "t"})
	c.baseURL = srv.URL

	zones, err := c.ListZones(context.Background())
	if err != nil {
		t.Fatalf("ListZones() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("expected one retry (2 calls), got %d", calls)
	}
	if len(zones) != 1 || zones[0].Name != "example.com" {
		t.Errorf("zones = %+v", zones)
	}
}

func TestDeleteRecordNotFoundIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(envelope[struct{}]{Success: false})
	}))
	defer srv.Close()

	c := New(Credentials{APIToken: "t"})
	c.baseURL = srv.URL

	if err := c.DeleteRecord(context.Background(), "zone-1", "rec-missing"); err != nil {
		t.Fatalf("DeleteRecord() on a 404 should still decode the envelope, error = %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no retries on 404, got %d calls", calls)
	}
}

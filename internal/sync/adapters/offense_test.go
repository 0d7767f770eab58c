package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	syncengine "github.com/casebridge/casebridge/internal/sync"
)

func offenseSettings(baseURL string, pageSize int) map[string]interface{} {
	return map[string]interface{}{
		"base_url":  baseURL,
		"api_token": "test-token",
		"page_size": pageSize,
	}
}

func testWindow() syncengine.SyncWindow {
	until := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	return syncengine.SyncWindow{Since: until.Add(-time.Hour), Until: until}
}

func TestOffenseFetchPaging(t *testing.T) {
	var ranges []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/siem/offenses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("SEC"); got != "test-token" {
			t.Errorf("SEC header = %q", got)
		}
		if filter := r.URL.Query().Get("filter"); filter == "" {
			t.Error("filter query param missing")
		}

		rng := r.Header.Get("Range")
		ranges = append(ranges, rng)

		w.Header().Set("Content-Type", "application/json")
		switch rng {
		case "items=0-1":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": 1, "status": "OPEN"},
				{"id": 2, "status": "CLOSED"},
			})
		default:
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": 3, "status": "OPEN"},
			})
		}
	}))
	defer server.Close()

	adapter, err := NewOffenseAdapter(offenseSettings(server.URL, 2))
	if err != nil {
		t.Fatalf("NewOffenseAdapter failed: %v", err)
	}

	records, next, done, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	if len(records) != 2 || done {
		t.Fatalf("first page: %d records done=%v, want 2 records not done", len(records), done)
	}

	records, _, done, err = adapter.Fetch(context.Background(), testWindow(), next)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if len(records) != 1 || !done {
		t.Fatalf("second page: %d records done=%v, want 1 record done", len(records), done)
	}

	if len(ranges) != 2 || ranges[0] != "items=0-1" || ranges[1] != "items=2-3" {
		t.Errorf("Range headers = %v", ranges)
	}
}

func TestOffenseFetchRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter, _ := NewOffenseAdapter(offenseSettings(server.URL, 50))
	_, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if !syncengine.IsIntegrationError(err) {
		t.Errorf("expected integration error on 401, got %T: %v", err, err)
	}
}

func TestOffenseFetchServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter, _ := NewOffenseAdapter(offenseSettings(server.URL, 50))
	_, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if !syncengine.IsTransient(err) {
		t.Errorf("expected transient error on 502, got %T: %v", err, err)
	}
}

// The vendor rejects status updates naming an assignee the API user cannot
// access; the adapter must retry exactly once without the assignee.
func TestOffensePushStatusAssigneeRetry(t *testing.T) {
	var payloads []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		payloads = append(payloads, payload)

		if _, hasAssignee := payload["assigned_to"]; hasAssignee {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message":"user has no access to the assigned user"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter, _ := NewOffenseAdapter(offenseSettings(server.URL, 50))

	err := adapter.PushStatus(context.Background(), "4021", "CLOSED", false, "restricted-user")
	if err != nil {
		t.Fatalf("PushStatus failed: %v", err)
	}

	if len(payloads) != 2 {
		t.Fatalf("requests = %d, want exactly 2 (original + retry)", len(payloads))
	}
	if _, ok := payloads[0]["assigned_to"]; !ok {
		t.Error("first request missing assignee")
	}
	if _, ok := payloads[1]["assigned_to"]; ok {
		t.Error("retry still carries the assignee")
	}
	// CLOSED transitions carry a closing reason
	if payloads[1]["closing_reason_id"] != float64(1) {
		t.Errorf("closing_reason_id = %v, want 1", payloads[1]["closing_reason_id"])
	}
}

func TestOffensePushStatusQuirkWhenRetryFails(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"no access"}`))
	}))
	defer server.Close()

	adapter, _ := NewOffenseAdapter(offenseSettings(server.URL, 50))

	err := adapter.PushStatus(context.Background(), "4021", "OPEN", true, "restricted-user")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !syncengine.IsQuirk(err) {
		t.Errorf("expected quirk error, got %T: %v", err, err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestOffensePushStatusNoRetryWithoutAssignee(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"no access"}`))
	}))
	defer server.Close()

	adapter, _ := NewOffenseAdapter(offenseSettings(server.URL, 50))

	if err := adapter.PushStatus(context.Background(), "4021", "OPEN", false, ""); err == nil {
		t.Fatal("expected failure")
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (no assignee to strip)", requests)
	}
}

func TestNewOffenseAdapterValidation(t *testing.T) {
	if _, err := NewOffenseAdapter(map[string]interface{}{"api_token": "x"}); err == nil {
		t.Error("expected error without base_url")
	}
	if _, err := NewOffenseAdapter(map[string]interface{}{"base_url": "http://x"}); err == nil {
		t.Error("expected error without api_token")
	}
}

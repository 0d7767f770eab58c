package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	syncengine "github.com/casebridge/casebridge/internal/sync"
)

// instantSleep makes the poll loop run without waiting
func instantSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func searchJobSettings(baseURL string) map[string]interface{} {
	return map[string]interface{}{
		"base_url":  baseURL,
		"api_token": "test-token",
	}
}

// newSearchJobServer serves the submit/poll/results sequence with the given
// poll statuses played back in order.
func newSearchJobServer(t *testing.T, pollStatuses []string, events []map[string]interface{}) (*httptest.Server, *int) {
	t.Helper()
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("Authorization header = %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/searches":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if !strings.HasPrefix(body["query_expression"], "search earliest=") {
				t.Errorf("query_expression = %q", body["query_expression"])
			}
			json.NewEncoder(w).Encode(map[string]string{"search_id": "job-1"})

		case r.Method == http.MethodGet && r.URL.Path == "/searches/job-1":
			status := pollStatuses[len(pollStatuses)-1]
			if polls < len(pollStatuses) {
				status = pollStatuses[polls]
			}
			polls++
			json.NewEncoder(w).Encode(map[string]interface{}{"status": status, "progress": polls * 30})

		case r.Method == http.MethodGet && r.URL.Path == "/searches/job-1/results":
			json.NewEncoder(w).Encode(map[string]interface{}{"events": events})

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return server, &polls
}

func TestSearchJobFetchHappyPath(t *testing.T) {
	events := []map[string]interface{}{
		{"event_id": "e1", "rule_title": "Brute force", "severity": "high"},
		{"event_id": "e2", "rule_title": "Beaconing", "severity": "low"},
	}
	server, polls := newSearchJobServer(t, []string{"submitted", "running", "completed"}, events)
	defer server.Close()

	adapter, err := NewSearchJobAdapter(searchJobSettings(server.URL))
	if err != nil {
		t.Fatalf("NewSearchJobAdapter failed: %v", err)
	}
	adapter.sleep = instantSleep

	records, next, done, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !done || next != nil {
		t.Errorf("done=%v next=%v, want single-shot fetch", done, next)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0]["event_id"] != "e1" {
		t.Errorf("first record = %v", records[0])
	}
	if *polls != 3 {
		t.Errorf("polls = %d, want 3", *polls)
	}
}

func TestSearchJobFetchJobFails(t *testing.T) {
	server, polls := newSearchJobServer(t, []string{"running", "running", "failed"}, nil)
	defer server.Close()

	adapter, _ := NewSearchJobAdapter(searchJobSettings(server.URL))
	adapter.sleep = instantSleep

	_, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if !syncengine.IsTransient(err) {
		t.Fatalf("expected transient error for failed job, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "failed") {
		t.Errorf("error does not name the job state: %v", err)
	}
	if *polls != 3 {
		t.Errorf("polls = %d, want 3", *polls)
	}
}

func TestSearchJobFetchTimesOut(t *testing.T) {
	server, polls := newSearchJobServer(t, []string{"running"}, nil)
	defer server.Close()

	adapter, _ := NewSearchJobAdapter(searchJobSettings(server.URL))
	adapter.sleep = instantSleep
	adapter.maxPolls = 4

	_, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if !syncengine.IsTransient(err) {
		t.Fatalf("expected transient timeout, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error does not report the timeout: %v", err)
	}
	if *polls != 4 {
		t.Errorf("polls = %d, want 4", *polls)
	}
}

func TestSearchJobFetchUnknownStatus(t *testing.T) {
	server, _ := newSearchJobServer(t, []string{"exploded"}, nil)
	defer server.Close()

	adapter, _ := NewSearchJobAdapter(searchJobSettings(server.URL))
	adapter.sleep = instantSleep

	_, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if !syncengine.IsTransient(err) {
		t.Fatalf("expected transient error for unknown status, got %T: %v", err, err)
	}
}

func TestSearchJobSubmitRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	adapter, _ := NewSearchJobAdapter(searchJobSettings(server.URL))
	adapter.sleep = instantSleep

	_, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if !syncengine.IsIntegrationError(err) {
		t.Errorf("expected integration error on 403, got %T: %v", err, err)
	}
}

// A credential rejection is a per-integration failure no matter which call
// in the submit/poll/results sequence reports it.
func TestSearchJobPollRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"search_id": "job-1"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter, _ := NewSearchJobAdapter(searchJobSettings(server.URL))
	adapter.sleep = instantSleep

	_, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if !syncengine.IsIntegrationError(err) {
		t.Errorf("expected integration error on poll 401, got %T: %v", err, err)
	}
}

func TestSearchJobResultsRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"search_id": "job-1"})
		case strings.HasSuffix(r.URL.Path, "/results"):
			w.WriteHeader(http.StatusForbidden)
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "completed"})
		}
	}))
	defer server.Close()

	adapter, _ := NewSearchJobAdapter(searchJobSettings(server.URL))
	adapter.sleep = instantSleep

	_, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if !syncengine.IsIntegrationError(err) {
		t.Errorf("expected integration error on results 403, got %T: %v", err, err)
	}
}

func TestSearchJobResultLimitInRequest(t *testing.T) {
	var resultsQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"search_id": "job-1"})
		case strings.HasSuffix(r.URL.Path, "/results"):
			resultsQuery = r.URL.RawQuery
			json.NewEncoder(w).Encode(map[string]interface{}{"events": []map[string]interface{}{}})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "completed"})
		}
	}))
	defer server.Close()

	settings := searchJobSettings(server.URL)
	settings["result_limit"] = 25
	adapter, _ := NewSearchJobAdapter(settings)
	adapter.sleep = instantSleep

	if _, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if want := fmt.Sprintf("offset=0&count=%d", 25); resultsQuery != want {
		t.Errorf("results query = %q, want %q", resultsQuery, want)
	}
}

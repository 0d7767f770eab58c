package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	syncengine "github.com/casebridge/casebridge/internal/sync"
)

func logStoreSettings(baseURL string, extra map[string]interface{}) map[string]interface{} {
	settings := map[string]interface{}{
		"base_url":       baseURL,
		"api_token":      "test-key",
		"index_patterns": []interface{}{"alerts-*"},
		"page_size":      2,
	}
	for k, v := range extra {
		settings[k] = v
	}
	return settings
}

func logStoreHitJSON(id string, sort []interface{}, fields map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"_id": id, "_source": fields, "sort": sort}
}

func writeHits(w http.ResponseWriter, hits ...map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"hits": map[string]interface{}{"hits": hits},
	})
}

// fetchAll drains the adapter the way the orchestrator does: one page per
// call, threading the returned state back in until done.
func fetchAll(t *testing.T, adapter syncengine.Adapter, window syncengine.SyncWindow) []syncengine.RawRecord {
	t.Helper()
	var records []syncengine.RawRecord
	var state *syncengine.PageState
	for {
		page, next, done, err := adapter.Fetch(context.Background(), window, state)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		records = append(records, page...)
		if done {
			return records
		}
		state = next
	}
}

func TestLogStoreFetchPagesWithSearchAfter(t *testing.T) {
	var bodies []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/alerts-*/_search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "ApiKey test-key" {
			t.Errorf("Authorization header = %q", auth)
		}

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)

		if len(bodies) == 1 {
			writeHits(w,
				logStoreHitJSON("a1", []interface{}{float64(100), "a1"}, map[string]interface{}{"severity": "high"}),
				logStoreHitJSON("a2", []interface{}{float64(200), "a2"}, map[string]interface{}{"severity": "low"}),
			)
			return
		}
		// short page terminates the pattern
		writeHits(w,
			logStoreHitJSON("a3", []interface{}{float64(300), "a3"}, map[string]interface{}{"severity": "low"}),
		)
	}))
	defer server.Close()

	adapter, err := NewLogStoreAdapter(logStoreSettings(server.URL, nil))
	if err != nil {
		t.Fatalf("NewLogStoreAdapter failed: %v", err)
	}

	page, state, done, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if done {
		t.Fatal("full page must not end the stream")
	}
	if len(page) != 2 {
		t.Fatalf("first page = %d records, want 2", len(page))
	}

	// the cursor rides in the returned state, keyed by pattern
	cursor, ok := state.Cursors["alerts-*"]
	if !ok || len(cursor) != 2 || cursor[0] != float64(200) || cursor[1] != "a2" {
		t.Fatalf("state cursor = %v, want last sort of page one", state.Cursors)
	}

	page, _, done, err = adapter.Fetch(context.Background(), testWindow(), state)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !done {
		t.Error("short page must end the stream")
	}
	if len(page) != 1 || page[0]["_id"] != "a3" {
		t.Errorf("second page = %v, want a3", page)
	}

	if len(bodies) != 2 {
		t.Fatalf("search requests = %d, want 2", len(bodies))
	}
	if _, ok := bodies[0]["search_after"]; ok {
		t.Error("first request must not carry search_after")
	}
	after, ok := bodies[1]["search_after"].([]interface{})
	if !ok || len(after) != 2 || after[0] != float64(200) || after[1] != "a2" {
		t.Errorf("second request search_after = %v, want last sort of page one", bodies[1]["search_after"])
	}
}

func TestLogStoreQueryShape(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		writeHits(w)
	}))
	defer server.Close()

	adapter, _ := NewLogStoreAdapter(logStoreSettings(server.URL, nil))
	if _, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if _, ok := body["sort"]; !ok {
		t.Error("default flavor query missing sort")
	}

	boolQuery := body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	if _, ok := boolQuery["must"]; !ok {
		t.Error("default flavor query missing severity exists filter")
	}

	// the timestamp range ORs over all candidate field names
	filter := boolQuery["filter"].([]interface{})[0].(map[string]interface{})
	should := filter["bool"].(map[string]interface{})["should"].([]interface{})
	if len(should) != len(timestampFields) {
		t.Errorf("should clauses = %d, want %d", len(should), len(timestampFields))
	}
}

// The archive flavor has a flat schema without the standard timestamp and
// severity fields; its queries must skip the sort and the severity filter.
func TestLogStoreArchiveFlavorQuery(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		writeHits(w)
	}))
	defer server.Close()

	adapter, _ := NewLogStoreAdapter(logStoreSettings(server.URL, map[string]interface{}{
		"source_flavor": "archive",
	}))
	if _, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if _, ok := body["sort"]; ok {
		t.Error("archive flavor query must not sort")
	}
	boolQuery := body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	if _, ok := boolQuery["must"]; ok {
		t.Error("archive flavor query must not filter on severity")
	}
}

func TestLogStoreRecordCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// always a full page with a sort key: only the cap can stop this
		writeHits(w,
			logStoreHitJSON("x1", []interface{}{float64(1), "x1"}, map[string]interface{}{}),
			logStoreHitJSON("x2", []interface{}{float64(2), "x2"}, map[string]interface{}{}),
		)
	}))
	defer server.Close()

	adapter, _ := NewLogStoreAdapter(logStoreSettings(server.URL, map[string]interface{}{
		"max_records": 3,
	}))

	records := fetchAll(t, adapter, testWindow())
	if len(records) != 3 {
		t.Errorf("records = %d, want cap of 3", len(records))
	}
}

// A page that repeats without a sort key would loop forever; the adapter
// stops instead.
func TestLogStoreStopsOnMissingSortKey(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		writeHits(w,
			logStoreHitJSON("x1", nil, map[string]interface{}{}),
			logStoreHitJSON("x2", nil, map[string]interface{}{}),
		)
	}))
	defer server.Close()

	adapter, _ := NewLogStoreAdapter(logStoreSettings(server.URL, nil))

	records := fetchAll(t, adapter, testWindow())
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (defensive stop)", requests)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}

func TestLogStoreRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	adapter, _ := NewLogStoreAdapter(logStoreSettings(server.URL, nil))
	_, _, _, err := adapter.Fetch(context.Background(), testWindow(), nil)
	if !syncengine.IsIntegrationError(err) {
		t.Errorf("expected integration error on 403, got %T: %v", err, err)
	}
}

func TestLogStoreMultiplePatterns(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		writeHits(w,
			logStoreHitJSON("h1", []interface{}{float64(1), "h1"}, map[string]interface{}{}),
		)
	}))
	defer server.Close()

	adapter, _ := NewLogStoreAdapter(logStoreSettings(server.URL, map[string]interface{}{
		"index_patterns": []interface{}{"alerts-*", "detections-*"},
	}))

	records := fetchAll(t, adapter, testWindow())
	if len(records) != 2 {
		t.Errorf("records = %d, want one per pattern", len(records))
	}
	if len(paths) != 2 || paths[0] != "/alerts-*/_search" || paths[1] != "/detections-*/_search" {
		t.Errorf("paths = %v", paths)
	}
}

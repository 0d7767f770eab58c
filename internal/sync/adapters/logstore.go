package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	syncengine "github.com/casebridge/casebridge/internal/sync"
)

const (
	defaultLogStorePageSize = 100
	defaultLogStoreCap      = 1000

	// archiveFlavor marks a source with a distinct flat schema: no
	// timestamp sort field and no severity field to filter on.
	archiveFlavor = "archive"
)

// timestampFields are the candidate names for the record timestamp; the
// range filter ORs over all of them because index templates disagree.
var timestampFields = []string{"@timestamp", "timestamp", "event_time"}

// LogStoreAdapter queries a full-text log store with search_after deep
// pagination. Offset paging is unstable on high-volume indices, so pages are
// keyed on a per-record sort value instead. Multiple index patterns are
// queried in one cycle, each with an independent cursor.
type LogStoreAdapter struct {
	baseURL       string
	apiToken      string
	indexPatterns []string
	pageSize      int
	maxRecords    int
	flavor        string
	client        *http.Client
}

// NewLogStoreAdapter builds an adapter from flattened integration settings
func NewLogStoreAdapter(settings map[string]interface{}) (*LogStoreAdapter, error) {
	base, err := requireBaseURL(settings)
	if err != nil {
		return nil, err
	}
	return &LogStoreAdapter{
		baseURL:       base,
		apiToken:      settingString(settings, "api_token", ""),
		indexPatterns: settingStrings(settings, "index_patterns", []string{"alerts-*"}),
		pageSize:      settingInt(settings, "page_size", defaultLogStorePageSize),
		maxRecords:    settingInt(settings, "max_records", defaultLogStoreCap),
		flavor:        settingString(settings, "source_flavor", ""),
		client:        &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

// VendorSource returns the vendor tag for log-store records
func (a *LogStoreAdapter) VendorSource() string {
	return "logstore"
}

// Fetch returns one page per call and threads its position through
// PageState: Offset is the current index-pattern position and Cursors holds
// the search_after cursor per pattern. A pattern is exhausted on a short
// page, when the per-cycle record cap is reached, or when a page carries no
// sort key (defensive stop against malformed responses that would otherwise
// loop forever).
func (a *LogStoreAdapter) Fetch(ctx context.Context, window syncengine.SyncWindow, state *syncengine.PageState) ([]syncengine.RawRecord, *syncengine.PageState, bool, error) {
	if state == nil {
		state = &syncengine.PageState{}
	}
	if state.Cursors == nil {
		state.Cursors = make(map[string][]interface{})
	}

	for state.Offset < len(a.indexPatterns) {
		if state.Fetched >= a.maxRecords {
			return nil, nil, true, nil
		}

		pattern := a.indexPatterns[state.Offset]
		hits, err := a.search(ctx, pattern, window, state.Cursors[pattern])
		if err != nil {
			return nil, nil, false, err
		}

		records := make([]syncengine.RawRecord, 0, len(hits))
		var lastSort []interface{}
		for _, hit := range hits {
			record := make(syncengine.RawRecord, len(hit.Source)+1)
			for k, v := range hit.Source {
				record[k] = v
			}
			record["_id"] = hit.ID
			records = append(records, record)
			lastSort = hit.Sort
		}

		if budget := a.maxRecords - state.Fetched; len(records) > budget {
			records = records[:budget]
		}
		state.Fetched += len(records)

		exhausted := len(hits) < a.pageSize || len(lastSort) == 0 || state.Fetched >= a.maxRecords
		if exhausted {
			delete(state.Cursors, pattern)
			state.Offset++
		} else {
			state.Cursors[pattern] = lastSort
		}

		done := state.Offset >= len(a.indexPatterns) || state.Fetched >= a.maxRecords
		if len(records) == 0 && !done {
			continue
		}
		return records, state, done, nil
	}

	return nil, nil, true, nil
}

type logStoreHit struct {
	ID     string                 `json:"_id"`
	Source map[string]interface{} `json:"_source"`
	Sort   []interface{}          `json:"sort"`
}

func (a *LogStoreAdapter) search(ctx context.Context, pattern string, window syncengine.SyncWindow, cursor []interface{}) ([]logStoreHit, error) {
	body, _ := json.Marshal(a.buildQuery(window, cursor))

	endpoint := fmt.Sprintf("%s/%s/_search", a.baseURL, pattern)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, syncengine.Transient("building log-store request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiToken != "" {
		req.Header.Set("Authorization", "ApiKey "+a.apiToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, syncengine.Transient("log-store search: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, syncengine.IntegrationFailure("log store rejected credentials (%d)", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, syncengine.Transient("log store returned %d: %s", resp.StatusCode, drainBody(resp))
	}

	var parsed struct {
		Hits struct {
			Hits []logStoreHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, syncengine.Transient("decoding log-store response: %v", err)
	}
	return parsed.Hits.Hits, nil
}

// buildQuery assembles the search body. The timestamp range is expressed as
// a should over candidate field names. The archive flavor uses a flat schema
// without the standard timestamp and severity fields, so its queries skip
// the default sort and severity filter.
func (a *LogStoreAdapter) buildQuery(window syncengine.SyncWindow, cursor []interface{}) map[string]interface{} {
	var should []interface{}
	for _, field := range timestampFields {
		should = append(should, map[string]interface{}{
			"range": map[string]interface{}{
				field: map[string]interface{}{
					"gte": window.Since.UnixMilli(),
					"lt":  window.Until.UnixMilli(),
				},
			},
		})
	}

	boolQuery := map[string]interface{}{
		"filter": []interface{}{
			map[string]interface{}{
				"bool": map[string]interface{}{
					"should":               should,
					"minimum_should_match": 1,
				},
			},
		},
	}

	query := map[string]interface{}{
		"size":  a.pageSize,
		"query": map[string]interface{}{"bool": boolQuery},
	}

	if a.flavor != archiveFlavor {
		boolQuery["must"] = []interface{}{
			map[string]interface{}{
				"exists": map[string]interface{}{"field": "severity"},
			},
		}
		query["sort"] = []interface{}{
			map[string]interface{}{"@timestamp": "asc"},
			map[string]interface{}{"_id": "asc"},
		}
	}

	if len(cursor) > 0 {
		query["search_after"] = cursor
	}
	return query
}

var _ syncengine.Adapter = (*LogStoreAdapter)(nil)

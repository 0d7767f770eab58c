package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	syncengine "github.com/casebridge/casebridge/internal/sync"
)

// Search job lifecycle states as reported by the vendor
const (
	jobStatusSubmitted = "submitted"
	jobStatusRunning   = "running"
	jobStatusCompleted = "completed"
	jobStatusFailed    = "failed"
	jobStatusCanceled  = "canceled"
)

const (
	defaultPollInterval = 5 * time.Second
	maxPollAttempts     = 60
	defaultResultLimit  = 500
)

// SearchJobAdapter speaks the SIEM's asynchronous search protocol: submit a
// query expression, poll the job until it reaches a terminal state, then
// fetch one bounded page of results. The job is transient state for a single
// cycle and is never persisted.
type SearchJobAdapter struct {
	baseURL     string
	apiToken    string
	resultLimit int
	client      *http.Client

	pollInterval time.Duration
	maxPolls     int
	// sleep is injected so tests can advance time instantly
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSearchJobAdapter builds an adapter from flattened integration settings
func NewSearchJobAdapter(settings map[string]interface{}) (*SearchJobAdapter, error) {
	base, err := requireBaseURL(settings)
	if err != nil {
		return nil, err
	}
	token := settingString(settings, "api_token", "")
	if token == "" {
		return nil, fmt.Errorf("api_token is required")
	}
	return &SearchJobAdapter{
		baseURL:      base,
		apiToken:     token,
		resultLimit:  settingInt(settings, "result_limit", defaultResultLimit),
		client:       &http.Client{Timeout: defaultRequestTimeout},
		pollInterval: defaultPollInterval,
		maxPolls:     maxPollAttempts,
		sleep:        sleepWithContext,
	}, nil
}

// VendorSource returns the vendor tag for search-job records
func (a *SearchJobAdapter) VendorSource() string {
	return "searchjob"
}

// Fetch runs the whole submit/poll/retrieve sequence in one call. The result
// page is bounded by the configured limit; records beyond it are
// intentionally not fetched, keeping per-cycle work bounded.
func (a *SearchJobAdapter) Fetch(ctx context.Context, window syncengine.SyncWindow, _ *syncengine.PageState) ([]syncengine.RawRecord, *syncengine.PageState, bool, error) {
	jobID, err := a.submit(ctx, window)
	if err != nil {
		return nil, nil, false, err
	}

	if err := a.waitForCompletion(ctx, jobID); err != nil {
		return nil, nil, false, err
	}

	records, err := a.fetchResults(ctx, jobID)
	if err != nil {
		return nil, nil, false, err
	}
	return records, nil, true, nil
}

// submit starts a search job and returns its id
func (a *SearchJobAdapter) submit(ctx context.Context, window syncengine.SyncWindow) (string, error) {
	query := fmt.Sprintf("search earliest=%d latest=%d", window.Since.Unix(), window.Until.Unix())
	body, _ := json.Marshal(map[string]string{"query_expression": query})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/searches", bytes.NewReader(body))
	if err != nil {
		return "", syncengine.Transient("building submit request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", syncengine.Transient("submitting search job: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", syncengine.IntegrationFailure("search API rejected credentials (%d)", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return "", syncengine.Transient("search submit returned %d: %s", resp.StatusCode, drainBody(resp))
	}

	var submitted struct {
		SearchID string `json:"search_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", syncengine.Transient("decoding submit response: %v", err)
	}
	if submitted.SearchID == "" {
		return "", syncengine.Transient("search submit returned no search_id")
	}
	return submitted.SearchID, nil
}

// waitForCompletion polls the job at a fixed interval until it completes,
// fails, or the attempt budget is exhausted. The wait between attempts is a
// cancellable blocking sleep, not a busy loop.
func (a *SearchJobAdapter) waitForCompletion(ctx context.Context, jobID string) error {
	for attempt := 1; attempt <= a.maxPolls; attempt++ {
		status, progress, err := a.pollJob(ctx, jobID)
		if err != nil {
			return err
		}

		switch status {
		case jobStatusCompleted:
			return nil
		case jobStatusFailed, jobStatusCanceled:
			return syncengine.Transient("search job %s ended as %s at %d%%", jobID, status, progress)
		case jobStatusSubmitted, jobStatusRunning:
			// keep polling
		default:
			return syncengine.Transient("search job %s reported unknown status %q", jobID, status)
		}

		if err := a.sleep(ctx, a.pollInterval); err != nil {
			return syncengine.Transient("search job %s wait canceled: %v", jobID, err)
		}
	}
	return syncengine.Transient("search job %s timed out after %d polls", jobID, a.maxPolls)
}

func (a *SearchJobAdapter) pollJob(ctx context.Context, jobID string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/searches/"+jobID, nil)
	if err != nil {
		return "", 0, syncengine.Transient("building poll request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", 0, syncengine.Transient("polling search job %s: %v", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", 0, syncengine.IntegrationFailure("search API rejected credentials (%d)", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return "", 0, syncengine.Transient("search poll returned %d: %s", resp.StatusCode, drainBody(resp))
	}

	var job struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", 0, syncengine.Transient("decoding poll response: %v", err)
	}
	return job.Status, job.Progress, nil
}

// fetchResults retrieves one bounded page of results for a completed job
func (a *SearchJobAdapter) fetchResults(ctx context.Context, jobID string) ([]syncengine.RawRecord, error) {
	endpoint := fmt.Sprintf("%s/searches/%s/results?offset=0&count=%d", a.baseURL, jobID, a.resultLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, syncengine.Transient("building results request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, syncengine.Transient("fetching search results: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, syncengine.IntegrationFailure("search API rejected credentials (%d)", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, syncengine.Transient("search results returned %d: %s", resp.StatusCode, drainBody(resp))
	}

	var results struct {
		Events []syncengine.RawRecord `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, syncengine.Transient("decoding search results: %v", err)
	}
	return results.Events, nil
}

// sleepWithContext blocks for d or until the context is canceled
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ syncengine.Adapter = (*SearchJobAdapter)(nil)

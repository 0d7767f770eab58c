package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	syncengine "github.com/casebridge/casebridge/internal/sync"
)

const defaultOffensePageSize = 50

// OffenseAdapter speaks the offense manager's REST protocol: synchronous
// ranged GETs for fetching and a separate authenticated POST per offense for
// status updates.
type OffenseAdapter struct {
	baseURL  string
	apiToken string
	pageSize int
	client   *http.Client
}

// NewOffenseAdapter builds an adapter from flattened integration settings
func NewOffenseAdapter(settings map[string]interface{}) (*OffenseAdapter, error) {
	base, err := requireBaseURL(settings)
	if err != nil {
		return nil, err
	}
	token := settingString(settings, "api_token", "")
	if token == "" {
		return nil, fmt.Errorf("api_token is required")
	}
	return &OffenseAdapter{
		baseURL:  base,
		apiToken: token,
		pageSize: settingInt(settings, "page_size", defaultOffensePageSize),
		client:   &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

// VendorSource returns the vendor tag for offense records
func (a *OffenseAdapter) VendorSource() string {
	return "offense"
}

// Fetch pulls one offset window of offenses modified inside the window.
// done is true once the vendor returns fewer records than a full page.
func (a *OffenseAdapter) Fetch(ctx context.Context, window syncengine.SyncWindow, state *syncengine.PageState) ([]syncengine.RawRecord, *syncengine.PageState, bool, error) {
	offset := 0
	if state != nil {
		offset = state.Offset
	}

	filter := fmt.Sprintf("start_time>=%d", window.Since.UnixMilli())
	endpoint := fmt.Sprintf("%s/api/siem/offenses?filter=%s", a.baseURL, url.QueryEscape(filter))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, false, syncengine.Transient("building offense request: %v", err)
	}
	req.Header.Set("SEC", a.apiToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Range", fmt.Sprintf("items=%d-%d", offset, offset+a.pageSize-1))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, false, syncengine.Transient("offense fetch: %v", err)
	}
	defer resp.Body.Close()

	if err := a.classifyStatus(resp); err != nil {
		return nil, nil, false, err
	}

	var records []syncengine.RawRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, nil, false, syncengine.Transient("decoding offense response: %v", err)
	}

	done := len(records) < a.pageSize
	next := &syncengine.PageState{Offset: offset + a.pageSize}
	return records, next, done, nil
}

// PushStatus updates one offense's status on the vendor side. The vendor
// rejects updates naming an assignee the API user cannot access; on that
// error the update is retried exactly once without the assignee before the
// failure is surfaced as a warning-level quirk.
func (a *OffenseAdapter) PushStatus(ctx context.Context, externalID, vendorStatus string, followUp bool, assignee string) error {
	err := a.postStatus(ctx, externalID, vendorStatus, followUp, assignee)
	if err == nil {
		return nil
	}
	if assignee != "" && isAssigneeAccessError(err) {
		if retryErr := a.postStatus(ctx, externalID, vendorStatus, followUp, ""); retryErr == nil {
			return nil
		}
		return syncengine.Quirk("offense %s status update failed even without assignee: %v", externalID, err)
	}
	return err
}

func (a *OffenseAdapter) postStatus(ctx context.Context, externalID, vendorStatus string, followUp bool, assignee string) error {
	payload := map[string]interface{}{
		"status":    vendorStatus,
		"follow_up": followUp,
	}
	if assignee != "" {
		payload["assigned_to"] = assignee
	}
	if vendorStatus == "CLOSED" {
		// The vendor requires a closing reason on CLOSED transitions.
		payload["closing_reason_id"] = 1
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return syncengine.Transient("encoding status payload: %v", err)
	}

	endpoint := fmt.Sprintf("%s/api/siem/offenses/%s", a.baseURL, url.PathEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return syncengine.Transient("building status request: %v", err)
	}
	req.Header.Set("SEC", a.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return syncengine.Transient("offense status update: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody := drainBody(resp)
	if resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(respBody), "access") {
		return &accessError{status: resp.StatusCode, body: respBody}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return syncengine.IntegrationFailure("offense status update unauthorized: %s", respBody)
	}
	return syncengine.Transient("offense status update returned %d: %s", resp.StatusCode, respBody)
}

// accessError marks the vendor's "no access for this assignee" rejection
type accessError struct {
	status int
	body   string
}

func (e *accessError) Error() string {
	return fmt.Sprintf("assignee access denied (%d): %s", e.status, e.body)
}

func isAssigneeAccessError(err error) bool {
	_, ok := err.(*accessError)
	if ok {
		return true
	}
	// Unwrapped transports may surface the vendor message directly.
	return strings.Contains(strings.ToLower(err.Error()), "access")
}

// classifyStatus maps HTTP failures onto the engine's error taxonomy
func (a *OffenseAdapter) classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return syncengine.IntegrationFailure("offense API rejected credentials (%d)", resp.StatusCode)
	default:
		return syncengine.Transient("offense API returned %d: %s", resp.StatusCode, drainBody(resp))
	}
}

var _ syncengine.Adapter = (*OffenseAdapter)(nil)
var _ syncengine.StatusPusher = (*OffenseAdapter)(nil)

// Package sync implements the multi-source synchronization and
// reconciliation engine: vendor adapters pull raw records from external
// detection platforms, the normalizer converts them into canonical events,
// the reconciler merges them into the store under identity and recency
// rules, and the orchestrator drives one cycle per integration.
package sync

import (
	"context"
	"time"

	"github.com/casebridge/casebridge/internal/database"
)

// RawRecord is one unparsed vendor record as returned by an adapter
type RawRecord map[string]interface{}

// SyncWindow is the half-open time range [Since, Until) one cycle fetches
type SyncWindow struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// PageState carries adapter paging position between Fetch calls. Which
// fields are meaningful depends on the adapter variant.
type PageState struct {
	// Offset is the record offset for the offense adapter's window paging,
	// and the current index-pattern position for the log-store adapter.
	Offset int

	// Per-pattern search_after cursors (log-store adapter)
	Cursors map[string][]interface{}

	// Fetched counts records returned so far this cycle (log-store adapter,
	// which caps total records per cycle)
	Fetched int
}

// Adapter translates one vendor's wire protocol into a stream of raw
// records. Adapters perform network I/O only; they never touch the store.
type Adapter interface {
	// VendorSource returns the vendor source tag stamped onto every
	// canonical event produced from this adapter's records.
	VendorSource() string

	// Fetch returns the next batch of raw records inside the window.
	// done reports that the stream is exhausted for this cycle; when it
	// is false the returned state must be passed to the next call.
	Fetch(ctx context.Context, window SyncWindow, state *PageState) (records []RawRecord, next *PageState, done bool, err error)
}

// StatusPusher is implemented by adapters able to write a status change back
// to the vendor platform.
type StatusPusher interface {
	PushStatus(ctx context.Context, externalID, vendorStatus string, followUp bool, assignee string) error
}

// Store is the persistence port the engine consumes. Implemented by
// database.Store; redeclared here so the engine depends on the contract,
// not the storage engine.
type Store interface {
	FindByExternalID(source, externalID string) (*database.CanonicalEvent, error)
	FindByLegacyKey(source, legacyKey string) (*database.CanonicalEvent, error)
	CreateOrGetEvent(event *database.CanonicalEvent) (*database.CanonicalEvent, bool, error)
	UpdateEvent(event *database.CanonicalEvent) error
	AppendTimeline(entries []database.TimelineEntry) error
	GetWatermark(integrationID uint) (*time.Time, error)
	SetWatermark(integrationID uint, ts time.Time) error
	LinkCaseAlert(caseID, alertID uint) error
	ListAlertsByIntegration(integrationID uint) ([]database.CanonicalEvent, error)
}

// CycleResult reports the outcome of one sync cycle. It is always populated,
// including on partial failure, so operators can detect silent data loss.
type CycleResult struct {
	IntegrationID   uint                `json:"integration_id"`
	IntegrationName string              `json:"integration_name"`
	VendorKind      database.VendorKind `json:"vendor_kind"`
	Window          SyncWindow          `json:"window"`
	Created         int                 `json:"created"`
	Updated         int                 `json:"updated"`
	Skipped         int                 `json:"skipped"`
	Failed          int                 `json:"failed"`
	Error           string              `json:"error,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
}

// Succeeded reports whether the cycle completed without a fatal error
func (r CycleResult) Succeeded() bool {
	return r.Error == ""
}

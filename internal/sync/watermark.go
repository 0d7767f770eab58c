package sync

import (
	"time"

	"github.com/casebridge/casebridge/internal/database"
)

// Default window parameters. The skew buffer re-fetches a short overlap
// before the last watermark to tolerate vendor clock drift and borderline
// records; reconciler idempotence makes the overlap harmless.
const (
	DefaultLookback   = 24 * time.Hour
	DefaultSkewBuffer = 5 * time.Minute
)

// WatermarkTracker computes fetch windows from per-integration watermarks
// and commits them only after a fully successful cycle.
type WatermarkTracker struct {
	store      Store
	lookback   time.Duration
	skewBuffer time.Duration
	now        func() time.Time
}

// NewWatermarkTracker creates a tracker. Zero durations select the defaults.
func NewWatermarkTracker(store Store, lookback, skewBuffer time.Duration) *WatermarkTracker {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if skewBuffer <= 0 {
		skewBuffer = DefaultSkewBuffer
	}
	return &WatermarkTracker{
		store:      store,
		lookback:   lookback,
		skewBuffer: skewBuffer,
		now:        time.Now,
	}
}

// NextWindow computes the fetch window for one integration: a bounded
// default lookback on the first run, otherwise from the last watermark minus
// the skew buffer up to now.
func (t *WatermarkTracker) NextWindow(integration *database.Integration) (SyncWindow, error) {
	until := t.now()

	watermark, err := t.store.GetWatermark(integration.ID)
	if err != nil {
		return SyncWindow{}, err
	}
	if watermark == nil {
		return SyncWindow{Since: until.Add(-t.lookback), Until: until}, nil
	}
	return SyncWindow{Since: watermark.Add(-t.skewBuffer), Until: until}, nil
}

// Commit advances the watermark to the end of the window. Called only after
// every record of the cycle was fetched, normalized, and reconciled; a cycle
// that fails partway never commits, so the next run re-fetches the same
// window and relies on reconciler idempotence.
func (t *WatermarkTracker) Commit(integrationID uint, window SyncWindow) error {
	return t.store.SetWatermark(integrationID, window.Until)
}

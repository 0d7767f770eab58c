package sync

import (
	"fmt"
	"time"

	"github.com/casebridge/casebridge/internal/database"
)

// SystemActor is recorded on timeline entries produced by the sync engine.
// Sync transitions are not attributed to a user.
const SystemActor = "System"

// ReconcileOutcome reports what the reconciler did with one incoming event
type ReconcileOutcome string

const (
	OutcomeCreated ReconcileOutcome = "created"
	OutcomeUpdated ReconcileOutcome = "updated"
	OutcomeSkipped ReconcileOutcome = "skipped"
)

// ReconcileResult is the outcome of reconciling one canonical event
type ReconcileResult struct {
	Outcome  ReconcileOutcome
	Event    *database.CanonicalEvent
	Timeline []database.TimelineEntry
}

// Reconciler merges incoming canonical events into the store under identity
// and recency rules and produces timeline deltas for observed transitions.
type Reconciler struct {
	store Store
	now   func() time.Time
}

// NewReconciler creates a Reconciler
func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// Reconcile resolves the incoming event to exactly one stored row: it either
// creates a new row or updates the existing one, and it never writes at all
// when the incoming record is not strictly newer than what is stored. A
// replay of an unchanged fetch window therefore produces zero writes and
// zero timeline noise.
func (r *Reconciler) Reconcile(incoming *database.CanonicalEvent) (*ReconcileResult, error) {
	existing, err := r.store.FindByExternalID(incoming.VendorSource, incoming.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("lookup %s/%s: %w", incoming.VendorSource, incoming.ExternalID, err)
	}
	if existing == nil && incoming.LegacyKey != "" {
		// Rows created under the older identity scheme are keyed by the
		// vendor ticket number instead of the external id.
		existing, err = r.store.FindByLegacyKey(incoming.VendorSource, incoming.LegacyKey)
		if err != nil {
			return nil, fmt.Errorf("legacy lookup %s/%s: %w", incoming.VendorSource, incoming.LegacyKey, err)
		}
	}

	if existing == nil {
		created, wasCreated, err := r.store.CreateOrGetEvent(incoming)
		if err != nil {
			return nil, err
		}
		if wasCreated {
			entry := database.TimelineEntry{
				EventID:    created.ID,
				EntryType:  database.TimelineEntryCreated,
				NewValue:   string(created.Status),
				Actor:      SystemActor,
				OccurredAt: r.now(),
			}
			if err := r.store.AppendTimeline([]database.TimelineEntry{entry}); err != nil {
				return nil, err
			}
			return &ReconcileResult{
				Outcome:  OutcomeCreated,
				Event:    created,
				Timeline: []database.TimelineEntry{entry},
			}, nil
		}
		// A concurrent cycle inserted the row between lookup and insert;
		// fall through and treat it as an existing row.
		existing = created
	}

	// Recency rule: ties and older records keep the stored row unchanged,
	// protecting local edits made between syncs and making replays cheap.
	if !incoming.VendorModifiedAt.After(existing.VendorModifiedAt) {
		return &ReconcileResult{Outcome: OutcomeSkipped, Event: existing}, nil
	}

	updated := *existing
	timeline := r.applyUpdate(&updated, incoming)

	if err := r.store.UpdateEvent(&updated); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", updated.VendorSource, updated.ExternalID, err)
	}
	if err := r.store.AppendTimeline(timeline); err != nil {
		return nil, err
	}

	return &ReconcileResult{Outcome: OutcomeUpdated, Event: &updated, Timeline: timeline}, nil
}

// applyUpdate copies incoming values onto the stored row and returns the
// timeline deltas. A non-empty stored field is never overwritten by an empty
// incoming value.
func (r *Reconciler) applyUpdate(stored, incoming *database.CanonicalEvent) []database.TimelineEntry {
	var timeline []database.TimelineEntry
	observedAt := r.now()

	if incoming.Status != stored.Status {
		timeline = append(timeline, database.TimelineEntry{
			EventID:    stored.ID,
			EntryType:  database.TimelineEntryStatusChange,
			OldValue:   string(stored.Status),
			NewValue:   string(incoming.Status),
			Actor:      SystemActor,
			OccurredAt: observedAt,
		})
		if incoming.Status == database.EventStatusClosed {
			timeline = append(timeline, database.TimelineEntry{
				EventID:    stored.ID,
				EntryType:  database.TimelineEntryClosed,
				OldValue:   string(stored.Status),
				NewValue:   string(database.EventStatusClosed),
				Actor:      SystemActor,
				OccurredAt: observedAt,
			})
		}
		stored.Status = incoming.Status
	}

	if incoming.Severity != database.EventSeverityUnset && incoming.Severity != stored.Severity {
		timeline = append(timeline, database.TimelineEntry{
			EventID:    stored.ID,
			EntryType:  database.TimelineEntrySeverityChange,
			OldValue:   string(stored.Severity),
			NewValue:   string(incoming.Severity),
			Actor:      SystemActor,
			OccurredAt: observedAt,
		})
		stored.Severity = incoming.Severity
	}

	if incoming.Assignee != "" && incoming.Assignee != stored.Assignee {
		timeline = append(timeline, database.TimelineEntry{
			EventID:    stored.ID,
			EntryType:  database.TimelineEntryAssigneeChange,
			OldValue:   stored.Assignee,
			NewValue:   incoming.Assignee,
			Actor:      SystemActor,
			OccurredAt: observedAt,
		})
		stored.Assignee = incoming.Assignee
	}

	if incoming.Title != "" {
		stored.Title = incoming.Title
	}
	if incoming.Description != "" {
		stored.Description = incoming.Description
	}
	if incoming.LegacyKey != "" {
		stored.LegacyKey = incoming.LegacyKey
	}

	stored.VendorMetadata = MergeMetadata(stored.VendorMetadata, incoming.VendorMetadata)
	stored.VendorModifiedAt = incoming.VendorModifiedAt

	return timeline
}

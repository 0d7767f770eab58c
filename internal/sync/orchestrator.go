package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/casebridge/casebridge/internal/config"
	"github.com/casebridge/casebridge/internal/database"
	"github.com/casebridge/casebridge/internal/vocab"
)

// AdapterFactory builds an adapter for one integration from its flattened
// credential settings. A factory failing means the integration is
// misconfigured, not that the vendor is unreachable.
type AdapterFactory func(settings map[string]interface{}) (Adapter, error)

// Orchestrator drives sync cycles: window computation, adapter paging,
// normalization, reconciliation, cross-entity linking, and the watermark
// commit. One cycle per integration; cycles for different integrations are
// independent and may run concurrently.
type Orchestrator struct {
	store      Store
	tracker    *WatermarkTracker
	normalizer *Normalizer
	reconciler *Reconciler
	linker     *Linker
	factories  map[database.VendorKind]AdapterFactory
}

// NewOrchestrator creates an Orchestrator with no registered adapters
func NewOrchestrator(store Store, tracker *WatermarkTracker) *Orchestrator {
	return &Orchestrator{
		store:      store,
		tracker:    tracker,
		normalizer: NewNormalizer(),
		reconciler: NewReconciler(store),
		linker:     NewLinker(store),
		factories:  make(map[database.VendorKind]AdapterFactory),
	}
}

// RegisterAdapter registers the factory for one vendor kind
func (o *Orchestrator) RegisterAdapter(kind database.VendorKind, factory AdapterFactory) {
	o.factories[kind] = factory
}

// RunCycle executes one full sync cycle for an integration. The returned
// CycleResult is always populated, including on partial failure; err is
// non-nil only for fatal (cycle-aborting) failures, in which case the
// watermark has not been advanced.
func (o *Orchestrator) RunCycle(ctx context.Context, integration *database.Integration) (CycleResult, error) {
	result := CycleResult{
		IntegrationID:   integration.ID,
		IntegrationName: integration.Name,
		VendorKind:      integration.VendorKind,
		StartedAt:       time.Now(),
	}

	adapter, err := o.adapterFor(integration)
	if err != nil {
		return o.fail(result, err)
	}

	window, err := o.tracker.NextWindow(integration)
	if err != nil {
		return o.fail(result, Transient("computing sync window: %v", err))
	}
	result.Window = window

	var state *PageState
	for {
		records, next, done, err := adapter.Fetch(ctx, window, state)
		if err != nil {
			return o.fail(result, err)
		}

		for _, raw := range records {
			if err := o.processRecord(raw, adapter.VendorSource(), integration, &result); err != nil {
				return o.fail(result, err)
			}
		}

		if done {
			break
		}
		state = next
	}

	if err := o.tracker.Commit(integration.ID, window); err != nil {
		return o.fail(result, Transient("committing watermark: %v", err))
	}

	result.FinishedAt = time.Now()
	log.Printf("Sync cycle for %s: created=%d updated=%d skipped=%d failed=%d",
		integration.Name, result.Created, result.Updated, result.Skipped, result.Failed)
	return result, nil
}

// processRecord normalizes and reconciles one raw record. Per-record
// failures are counted and swallowed; store failures abort the cycle.
func (o *Orchestrator) processRecord(raw RawRecord, vendorSource string, integration *database.Integration, result *CycleResult) error {
	event, err := o.normalizer.Normalize(raw, vendorSource, integration.ID)
	if err != nil {
		if IsRecordError(err) {
			log.Printf("Skipping malformed record from %s (%s): %v", integration.Name, describeRecord(raw), err)
			result.Failed++
			return nil
		}
		return err
	}

	outcome, err := o.reconciler.Reconcile(event)
	if err != nil {
		return Transient("reconciling %s/%s: %v", event.VendorSource, event.ExternalID, err)
	}

	switch outcome.Outcome {
	case OutcomeCreated:
		result.Created++
	case OutcomeUpdated:
		result.Updated++
	case OutcomeSkipped:
		result.Skipped++
	}

	if outcome.Outcome != OutcomeSkipped && outcome.Event.Kind == database.EventKindCase {
		o.linker.LinkCase(outcome.Event)
	}
	return nil
}

// PropagateStatus applies a status change to the local store and pushes it
// to the vendor platform when the adapter supports writes. Vendor push
// failures are logged; the local update is retained regardless, because
// local state does not require vendor-write success.
func (o *Orchestrator) PropagateStatus(ctx context.Context, integration *database.Integration, event *database.CanonicalEvent, status database.EventStatus, actor string) error {
	if event.Status == status {
		return nil
	}

	oldStatus := event.Status
	event.Status = status
	if err := o.store.UpdateEvent(event); err != nil {
		return fmt.Errorf("updating local status: %w", err)
	}
	entry := database.TimelineEntry{
		EventID:    event.ID,
		EntryType:  database.TimelineEntryStatusChange,
		OldValue:   string(oldStatus),
		NewValue:   string(status),
		Actor:      actor,
		OccurredAt: time.Now(),
	}
	if err := o.store.AppendTimeline([]database.TimelineEntry{entry}); err != nil {
		return err
	}

	adapter, err := o.adapterFor(integration)
	if err != nil {
		log.Printf("Status for %s/%s updated locally; vendor push unavailable: %v", event.VendorSource, event.ExternalID, err)
		return nil
	}
	pusher, ok := adapter.(StatusPusher)
	if !ok {
		return nil
	}

	vendorStatus, followUp := vocab.FromCanonical(event.VendorSource, status)
	if err := pusher.PushStatus(ctx, event.ExternalID, vendorStatus, followUp, event.Assignee); err != nil {
		log.Printf("Vendor status push for %s/%s failed (local state kept): %v", event.VendorSource, event.ExternalID, err)
	}
	return nil
}

// adapterFor builds the adapter for an integration from its settings
func (o *Orchestrator) adapterFor(integration *database.Integration) (Adapter, error) {
	factory, ok := o.factories[integration.VendorKind]
	if !ok {
		return nil, IntegrationFailure("no adapter registered for vendor kind %q", integration.VendorKind)
	}
	adapter, err := factory(config.FlattenSettings(integration.Settings))
	if err != nil {
		return nil, IntegrationFailure("building %s adapter: %v", integration.VendorKind, err)
	}
	return adapter, nil
}

// fail finalizes a cycle result for a fatal error
func (o *Orchestrator) fail(result CycleResult, err error) (CycleResult, error) {
	result.Error = err.Error()
	result.FinishedAt = time.Now()
	log.Printf("Sync cycle for %s aborted: %v", result.IntegrationName, err)
	return result, err
}

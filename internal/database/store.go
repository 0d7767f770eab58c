package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence port consumed by the sync engine. All methods are
// safe for concurrent use by independent integration cycles; the only
// concurrency-sensitive operation, CreateOrGetEvent, is atomic at the
// database level.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by the given gorm database
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindByExternalID looks up an event by its (vendorSource, externalID)
// identity. Returns (nil, nil) when no row exists.
func (s *Store) FindByExternalID(source, externalID string) (*CanonicalEvent, error) {
	var event CanonicalEvent
	err := s.db.Where("vendor_source = ? AND external_id = ?", source, externalID).First(&event).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// FindByLegacyKey looks up an event by the secondary legacy identity (vendor
// ticket number). Rows created under the older identity scheme carry this key
// instead of a matching external id. Returns (nil, nil) when absent.
func (s *Store) FindByLegacyKey(source, legacyKey string) (*CanonicalEvent, error) {
	if legacyKey == "" {
		return nil, nil
	}
	var event CanonicalEvent
	err := s.db.Where("vendor_source = ? AND legacy_key = ?", source, legacyKey).First(&event).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// CreateOrGetEvent inserts the event, or returns the existing row when
// another cycle already created one for the same identity. The insert uses
// ON CONFLICT DO NOTHING on (vendor_source, external_id) so two concurrent
// cycles can never produce duplicate rows.
func (s *Store) CreateOrGetEvent(event *CanonicalEvent) (*CanonicalEvent, bool, error) {
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vendor_source"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to insert event %s/%s: %w", event.VendorSource, event.ExternalID, result.Error)
	}

	if result.RowsAffected == 0 {
		existing, err := s.FindByExternalID(event.VendorSource, event.ExternalID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("event %s/%s vanished after conflicting insert", event.VendorSource, event.ExternalID)
		}
		return existing, false, nil
	}

	return event, true, nil
}

// UpdateEvent persists the mutable fields of an existing event row.
// Severity and assignee are included even when empty so the caller controls
// the non-empty-field protection rule, not the store.
func (s *Store) UpdateEvent(event *CanonicalEvent) error {
	return s.db.Model(&CanonicalEvent{}).Where("id = ?", event.ID).
		Select("title", "description", "status", "severity", "assignee",
			"vendor_modified_at", "vendor_metadata", "legacy_key").
		Updates(event).Error
}

// AppendTimeline appends immutable timeline entries
func (s *Store) AppendTimeline(entries []TimelineEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Create(&entries).Error
}

// TimelineForEvent returns an event's history ordered by observation time
func (s *Store) TimelineForEvent(eventID uint) ([]TimelineEntry, error) {
	var entries []TimelineEntry
	if err := s.db.Where("event_id = ?", eventID).Order("id asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// GetWatermark returns the last committed sync watermark for an integration,
// or nil when the integration has never completed a cycle.
func (s *Store) GetWatermark(integrationID uint) (*time.Time, error) {
	var integration Integration
	if err := s.db.First(&integration, integrationID).Error; err != nil {
		return nil, err
	}
	return integration.LastSyncAt, nil
}

// SetWatermark persists the watermark for an integration
func (s *Store) SetWatermark(integrationID uint, ts time.Time) error {
	return s.db.Model(&Integration{}).Where("id = ?", integrationID).
		Update("last_sync_at", ts).Error
}

// LinkCaseAlert associates a case with an alert. Idempotent: re-linking an
// already linked pair is a no-op.
func (s *Store) LinkCaseAlert(caseID, alertID uint) error {
	link := CaseAlertLink{CaseID: caseID, AlertID: alertID}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "case_id"}, {Name: "alert_id"}},
		DoNothing: true,
	}).Create(&link).Error
}

// LinksForCase returns all alert links for a case
func (s *Store) LinksForCase(caseID uint) ([]CaseAlertLink, error) {
	var links []CaseAlertLink
	if err := s.db.Where("case_id = ?", caseID).Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

// ListAlertsByIntegration returns all alert-kind events produced by one
// integration. Used by the cross-entity linking pass.
func (s *Store) ListAlertsByIntegration(integrationID uint) ([]CanonicalEvent, error) {
	var alerts []CanonicalEvent
	err := s.db.Where("integration_id = ? AND kind = ?", integrationID, EventKindAlert).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// ListEvents returns events filtered by optional vendor source and status,
// newest vendor activity first.
func (s *Store) ListEvents(source string, status EventStatus, limit int) ([]CanonicalEvent, error) {
	query := s.db.Model(&CanonicalEvent{}).Order("vendor_modified_at desc")
	if source != "" {
		query = query.Where("vendor_source = ?", source)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var events []CanonicalEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GetEventByUUID retrieves a single event by UUID
func (s *Store) GetEventByUUID(id string) (*CanonicalEvent, error) {
	var event CanonicalEvent
	if err := s.db.Where("uuid = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

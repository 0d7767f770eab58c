package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("type assertion to []byte failed")
		}
		bytes = []byte(s)
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// VendorKind identifies which sync protocol an integration speaks
type VendorKind string

const (
	VendorKindOffense   VendorKind = "offense"   // REST-polled offense manager
	VendorKindSearchJob VendorKind = "searchjob" // submit-and-poll SIEM search
	VendorKindLogStore  VendorKind = "logstore"  // cursor-paginated log store
)

// ValidVendorKinds returns all supported vendor kinds
func ValidVendorKinds() []VendorKind {
	return []VendorKind{VendorKindOffense, VendorKindSearchJob, VendorKindLogStore}
}

// EventKind distinguishes alerts from cases within the canonical store
type EventKind string

const (
	EventKindAlert EventKind = "alert"
	EventKindCase  EventKind = "case"
)

// EventStatus is the canonical status vocabulary all vendor statuses map into
type EventStatus string

const (
	EventStatusNew        EventStatus = "new"
	EventStatusInProgress EventStatus = "in_progress"
	EventStatusIgnored    EventStatus = "ignored"
	EventStatusClosed     EventStatus = "closed"
)

// EventSeverity is the canonical severity vocabulary. Empty string means the
// vendor did not report a usable severity.
type EventSeverity string

const (
	EventSeverityUnset    EventSeverity = ""
	EventSeverityLow      EventSeverity = "low"
	EventSeverityMedium   EventSeverity = "medium"
	EventSeverityHigh     EventSeverity = "high"
	EventSeverityCritical EventSeverity = "critical"
)

// CanonicalEvent is the unified representation of an alert or case from any
// vendor platform. Identity is (vendor_source, external_id); the store never
// holds two rows with the same pair.
type CanonicalEvent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UUID         string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	VendorSource string    `gorm:"size:64;not null;uniqueIndex:idx_vendor_external" json:"vendor_source"`
	ExternalID   string    `gorm:"size:255;not null;uniqueIndex:idx_vendor_external" json:"external_id"`
	LegacyKey    string    `gorm:"size:255;index" json:"legacy_key"` // vendor ticket number from the pre-UUID identity scheme
	Kind         EventKind `gorm:"type:varchar(16);not null;default:'alert'" json:"kind"`

	Title       string        `gorm:"type:varchar(512)" json:"title"`
	Description string        `gorm:"type:text" json:"description"`
	Status      EventStatus   `gorm:"type:varchar(32);not null;default:'new'" json:"status"`
	Severity    EventSeverity `gorm:"type:varchar(16)" json:"severity"`
	Assignee    string        `gorm:"type:varchar(255)" json:"assignee"`

	// Vendor-reported timestamps. VendorModifiedAt drives conflict
	// resolution; it is never compared against wall-clock time.
	VendorCreatedAt  time.Time `json:"vendor_created_at"`
	VendorModifiedAt time.Time `gorm:"index" json:"vendor_modified_at"`

	VendorMetadata JSONB `gorm:"type:jsonb" json:"vendor_metadata"`
	IntegrationID  uint  `gorm:"not null;index" json:"integration_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CanonicalEvent) TableName() string {
	return "canonical_events"
}

// TimelineEntryType categorizes timeline facts
type TimelineEntryType string

const (
	TimelineEntryCreated        TimelineEntryType = "created"
	TimelineEntryStatusChange   TimelineEntryType = "status_change"
	TimelineEntrySeverityChange TimelineEntryType = "severity_change"
	TimelineEntryAssigneeChange TimelineEntryType = "assignee_change"
	TimelineEntryComment        TimelineEntryType = "comment"
	TimelineEntryClosed         TimelineEntryType = "closed"
)

// TimelineEntry is an immutable audit fact attached to a CanonicalEvent.
// Entries are append-only; nothing in the engine mutates or deletes them.
type TimelineEntry struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	EventID    uint              `gorm:"not null;index" json:"event_id"`
	EntryType  TimelineEntryType `gorm:"type:varchar(32);not null" json:"entry_type"`
	OldValue   string            `gorm:"type:varchar(512)" json:"old_value"`
	NewValue   string            `gorm:"type:varchar(512)" json:"new_value"`
	Actor      string            `gorm:"type:varchar(255);not null" json:"actor"`
	OccurredAt time.Time         `gorm:"not null" json:"occurred_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (TimelineEntry) TableName() string {
	return "timeline_entries"
}

// CaseAlertLink associates a case with an alert sharing a vendor correlation
// identifier. Re-linking the same pair is a no-op.
type CaseAlertLink struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CaseID    uint      `gorm:"not null;uniqueIndex:idx_case_alert" json:"case_id"`
	AlertID   uint      `gorm:"not null;uniqueIndex:idx_case_alert" json:"alert_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (CaseAlertLink) TableName() string {
	return "case_alert_links"
}

// Integration is a configured connection to one vendor platform. The sync
// engine reads Settings (credentials) and reads/writes LastSyncAt; everything
// else is owned by configuration management.
type Integration struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UUID       string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Name       string     `gorm:"uniqueIndex;size:128;not null" json:"name"`
	VendorKind VendorKind `gorm:"type:varchar(32);not null;index" json:"vendor_kind"`
	Settings   JSONB      `gorm:"type:jsonb" json:"settings"`
	LastSyncAt *time.Time `json:"last_sync_at"`
	Enabled    bool       `gorm:"default:true" json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Integration) TableName() string {
	return "integrations"
}

// Package testhelpers provides reusable testing utilities: an in-memory
// database, data builders, and small assertion helpers.
package testhelpers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casebridge/casebridge/internal/database"
)

// OpenTestDB opens an in-memory sqlite database with the full schema migrated
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	// each pooled connection to :memory: would get its own database; pin the
	// pool to one connection so concurrent cycles share the schema
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access test database pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&database.Integration{},
		&database.CanonicalEvent{},
		&database.TimelineEntry{},
		&database.CaseAlertLink{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// CreateIntegration inserts an enabled integration and returns it
func CreateIntegration(t *testing.T, db *gorm.DB, name string, kind database.VendorKind) *database.Integration {
	t.Helper()

	integration := &database.Integration{
		UUID:       uuid.New().String(),
		Name:       name,
		VendorKind: kind,
		Settings:   database.JSONB{},
		Enabled:    true,
	}
	if err := db.Create(integration).Error; err != nil {
		t.Fatalf("failed to create integration %s: %v", name, err)
	}
	return integration
}

// EventBuilder builds CanonicalEvent instances for testing
type EventBuilder struct {
	event database.CanonicalEvent
}

// NewEventBuilder creates a builder with sensible defaults
func NewEventBuilder() *EventBuilder {
	now := time.Now().Truncate(time.Second)
	return &EventBuilder{
		event: database.CanonicalEvent{
			UUID:             uuid.New().String(),
			VendorSource:     "offense",
			ExternalID:       "1001",
			Kind:             database.EventKindCase,
			Title:            "Test offense",
			Status:           database.EventStatusNew,
			Severity:         database.EventSeverityMedium,
			VendorCreatedAt:  now.Add(-time.Hour),
			VendorModifiedAt: now,
			VendorMetadata:   database.JSONB{},
			IntegrationID:    1,
		},
	}
}

// WithSource sets the vendor source
func (b *EventBuilder) WithSource(source string) *EventBuilder {
	b.event.VendorSource = source
	return b
}

// WithExternalID sets the external id
func (b *EventBuilder) WithExternalID(id string) *EventBuilder {
	b.event.ExternalID = id
	return b
}

// WithLegacyKey sets the legacy ticket key
func (b *EventBuilder) WithLegacyKey(key string) *EventBuilder {
	b.event.LegacyKey = key
	return b
}

// WithKind sets the event kind
func (b *EventBuilder) WithKind(kind database.EventKind) *EventBuilder {
	b.event.Kind = kind
	return b
}

// WithTitle sets the title
func (b *EventBuilder) WithTitle(title string) *EventBuilder {
	b.event.Title = title
	return b
}

// WithStatus sets the status
func (b *EventBuilder) WithStatus(status database.EventStatus) *EventBuilder {
	b.event.Status = status
	return b
}

// WithSeverity sets the severity
func (b *EventBuilder) WithSeverity(severity database.EventSeverity) *EventBuilder {
	b.event.Severity = severity
	return b
}

// WithAssignee sets the assignee
func (b *EventBuilder) WithAssignee(assignee string) *EventBuilder {
	b.event.Assignee = assignee
	return b
}

// WithModifiedAt sets the vendor modification timestamp
func (b *EventBuilder) WithModifiedAt(ts time.Time) *EventBuilder {
	b.event.VendorModifiedAt = ts
	return b
}

// WithMetadata sets one metadata key
func (b *EventBuilder) WithMetadata(key string, value interface{}) *EventBuilder {
	if b.event.VendorMetadata == nil {
		b.event.VendorMetadata = database.JSONB{}
	}
	b.event.VendorMetadata[key] = value
	return b
}

// WithIntegrationID sets the owning integration
func (b *EventBuilder) WithIntegrationID(id uint) *EventBuilder {
	b.event.IntegrationID = id
	return b
}

// Build returns the event
func (b *EventBuilder) Build() database.CanonicalEvent {
	return b.event
}

// Create inserts the event into the database and returns it
func (b *EventBuilder) Create(t *testing.T, db *gorm.DB) *database.CanonicalEvent {
	t.Helper()
	event := b.event
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("failed to create event %s/%s: %v", event.VendorSource, event.ExternalID, err)
	}
	return &event
}

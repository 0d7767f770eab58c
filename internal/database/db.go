package database

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database
func Connect(dsn string, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connection established")
	return nil
}

// AutoMigrate runs database migrations
func AutoMigrate() error {
	log.Println("Running database migrations...")

	if err := DB.AutoMigrate(
		&Integration{},
		&CanonicalEvent{},
		&TimelineEntry{},
		&CaseAlertLink{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureIntegration creates or updates an integration by name. Used at
// startup to apply declarative integration seeds; the watermark of an
// existing integration is never touched here.
//
// Accepts a db parameter (rather than using the global DB) to support
// dependency injection, transaction contexts, and easier testing.
func EnsureIntegration(db *gorm.DB, name string, kind VendorKind, settings JSONB, enabled bool) (*Integration, error) {
	var integration Integration
	result := db.Where("name = ?", name).First(&integration)

	if result.Error == gorm.ErrRecordNotFound {
		integration = Integration{
			UUID:       uuid.New().String(),
			Name:       name,
			VendorKind: kind,
			Settings:   settings,
			Enabled:    enabled,
		}
		if err := db.Create(&integration).Error; err != nil {
			return nil, err
		}
		log.Printf("Created integration: %s (%s)", name, kind)
		return &integration, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}

	updates := map[string]interface{}{
		"vendor_kind": kind,
		"settings":    settings,
		"enabled":     enabled,
	}
	if err := db.Model(&integration).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &integration, nil
}

// ListEnabledIntegrations returns all enabled integrations
func ListEnabledIntegrations(db *gorm.DB) ([]Integration, error) {
	var integrations []Integration
	if err := db.Where("enabled = ?", true).Order("id asc").Find(&integrations).Error; err != nil {
		return nil, err
	}
	return integrations, nil
}

// GetIntegrationByUUID retrieves an integration by UUID
func GetIntegrationByUUID(db *gorm.DB, id string) (*Integration, error) {
	var integration Integration
	if err := db.Where("uuid = ?", id).First(&integration).Error; err != nil {
		return nil, err
	}
	return &integration, nil
}

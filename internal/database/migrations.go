package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/edgefleet/authcore/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.PermissionRecord{},
		&models.SharingResource{},
		&models.MemberPermission{},
		&models.CreditBalance{},
		&models.CreditLedgerEntry{},
		&models.AuditLog{},
	)
	if err != nil {
		return err
	}
	return createPartialIndexes(db)
}

// createPartialIndexes adds the unique index over live sharing rows. The
// plain key index cannot be unique because terminal rows stay as history,
// so uniqueness is scoped to active and paused statuses. MySQL has no
// partial indexes; there the create transaction's duplicate check is the
// only guard.
func createPartialIndexes(db *gorm.DB) error {
	if db.Dialector.Name() == "mysql" {
		return nil
	}
	// DDL takes no bind parameters, so the statuses are inlined.
	return db.Exec(fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sharing_key_live
		ON sharing_resources (organization_id, resource_type, resource_id)
		WHERE status IN ('%s', '%s')`,
		models.SharingStatusActive, models.SharingStatusPaused,
	)).Error
}

// SeedData populates the global resource configuration defaults. These act as
// the fallback access level for any principal without an explicit grant.
func SeedData(db *gorm.DB) error {
	defaults := []models.PermissionRecord{
		{
			BaseModel:        models.BaseModel{ID: "default-chat-api"},
			PermissionType:   "resource_config",
			TargetType:       "global",
			ResourceType:     "api_endpoint",
			ResourceName:     "chat_api",
			ResourceCategory: "core",
			AccessLevel:      "read_write",
			PermissionSource: "system_default",
			IsActive:         true,
		},
		{
			BaseModel:                models.BaseModel{ID: "default-billing-api"},
			PermissionType:           "resource_config",
			TargetType:               "global",
			ResourceType:             "api_endpoint",
			ResourceName:             "billing_api",
			ResourceCategory:         "billing",
			AccessLevel:              "read_only",
			PermissionSource:         "system_default",
			SubscriptionTierRequired: "basic",
			IsActive:                 true,
		},
		{
			BaseModel:        models.BaseModel{ID: "default-device-ota"},
			PermissionType:   "resource_config",
			TargetType:       "global",
			ResourceType:     "feature",
			ResourceName:     "device_ota",
			ResourceCategory: "device",
			AccessLevel:      "read_only",
			PermissionSource: "system_default",
			IsActive:         true,
		},
	}

	for _, record := range defaults {
		err := db.
			Where(models.PermissionRecord{BaseModel: models.BaseModel{ID: record.ID}}).
			Attrs(record).
			FirstOrCreate(&models.PermissionRecord{}).Error
		if err != nil {
			return err
		}
	}

	return nil
}

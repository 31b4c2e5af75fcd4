package models

import (
	"time"

	"gorm.io/datatypes"
)

// PermissionRecord stores a single grant keyed by target and resource.
// At most one active row may exist per (target_type, target_id, resource_type,
// resource_name); Store.Put deactivates the previous row before inserting.
type PermissionRecord struct {
	BaseModel

	PermissionType string  `gorm:"type:varchar(32);not null;index" json:"permission_type"`
	TargetType     string  `gorm:"type:varchar(16);not null;index:idx_permission_key,priority:1" json:"target_type"`
	TargetID       *string `gorm:"type:uuid;index:idx_permission_key,priority:2" json:"target_id"`
	ResourceType   string  `gorm:"type:varchar(64);not null;index:idx_permission_key,priority:3" json:"resource_type"`
	ResourceName   string  `gorm:"type:varchar(128);not null;index:idx_permission_key,priority:4" json:"resource_name"`

	ResourceCategory string `gorm:"type:varchar(64)" json:"resource_category"`
	AccessLevel      string `gorm:"type:varchar(16);not null" json:"access_level"`
	PermissionSource string `gorm:"type:varchar(32);not null" json:"permission_source"`

	SubscriptionTierRequired string `gorm:"type:varchar(32)" json:"subscription_tier_required"`

	IsActive  bool           `gorm:"not null;default:true;index" json:"is_active"`
	ExpiresAt *time.Time     `json:"expires_at"`
	Metadata  datatypes.JSON `json:"metadata"`
}

// TableName overrides the default table name for GORM.
func (PermissionRecord) TableName() string {
	return "permission_records"
}

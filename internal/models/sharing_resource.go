package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sharing resource lifecycle states. Revoked and expired are terminal.
const (
	SharingStatusActive  = "active"
	SharingStatusPaused  = "paused"
	SharingStatusExpired = "expired"
	SharingStatusRevoked = "revoked"
)

// SharingResource represents a resource shared within an organization. At
// most one active or paused row may exist per (organization_id,
// resource_type, resource_id); terminal rows stay behind as history, so the
// key index here is not unique. The rule is enforced by the partial unique
// index created in database.AutoMigrate.
type SharingResource struct {
	BaseModel

	OrganizationID string `gorm:"type:uuid;not null;index:idx_sharing_key,priority:1" json:"organization_id"`
	ResourceType   string `gorm:"type:varchar(64);not null;index:idx_sharing_key,priority:2" json:"resource_type"`
	ResourceID     string `gorm:"type:varchar(128);not null;index:idx_sharing_key,priority:3" json:"resource_id"`

	ResourceName string `gorm:"type:varchar(128)" json:"resource_name"`
	CreatorID    string `gorm:"type:uuid;not null;index" json:"creator_id"`

	DefaultLevel  string `gorm:"type:varchar(16);not null" json:"default_level"`
	ShareWithAll  bool   `gorm:"not null;default:false" json:"share_with_all"`
	QuotaLimit    int64  `json:"quota_limit"`
	UsageCount    int64  `gorm:"not null;default:0" json:"usage_count"`
	Status        string `gorm:"type:varchar(16);not null;default:active;index" json:"status"`

	Restrictions datatypes.JSON `json:"restrictions"`
	ExpiresAt    *time.Time     `json:"expires_at"`

	Members []MemberPermission `gorm:"foreignKey:SharingID" json:"members,omitempty"`
}

// TableName overrides the default table name for GORM.
func (SharingResource) TableName() string {
	return "sharing_resources"
}

package models

// MemberPermission grants one member access to a sharing resource.
// At most one active row per (sharing_id, member_id).
type MemberPermission struct {
	BaseModel

	SharingID string `gorm:"type:uuid;not null;index:idx_sharing_member,priority:1" json:"sharing_id"`
	MemberID  string `gorm:"type:uuid;not null;index:idx_sharing_member,priority:2" json:"member_id"`

	Level         string  `gorm:"type:varchar(16);not null" json:"level"`
	QuotaOverride *int64  `json:"quota_override"`
	GrantedByID   *string `gorm:"type:uuid" json:"granted_by_id"`

	IsActive bool `gorm:"not null;default:true;index" json:"is_active"`
}

// TableName overrides the default table name for GORM.
func (MemberPermission) TableName() string {
	return "sharing_member_permissions"
}

package models

// AuditLog captures who did what against which resource, and the outcome.
type AuditLog struct {
	BaseModel

	ActorID  *string `gorm:"type:uuid;index" json:"actor_id"`
	Action   string  `gorm:"type:varchar(64);not null;index" json:"action"`
	Resource string  `gorm:"type:varchar(256)" json:"resource"`
	Result   string  `gorm:"type:varchar(16);not null" json:"result"`
	Metadata string  `gorm:"type:text" json:"metadata"`
}

// TableName overrides the default table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}

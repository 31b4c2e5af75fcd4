package models

import "gorm.io/datatypes"

// Funding source identifiers, in deduction priority order.
const (
	CreditSourceSubscription = "subscription"
	CreditSourcePurchased    = "purchased"
	CreditSourceWallet       = "wallet"
)

// CreditBalance holds the per-user funding source balances. Mutations happen
// only inside the coordinator's transaction while the row is locked.
type CreditBalance struct {
	BaseModel

	UserID string `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`

	SubscriptionCredits int64 `gorm:"not null;default:0" json:"subscription_credits"`
	PurchasedCredits    int64 `gorm:"not null;default:0" json:"purchased_credits"`
	WalletBalance       int64 `gorm:"not null;default:0" json:"wallet_balance"`

	SubscriptionActive bool `gorm:"not null;default:false" json:"subscription_active"`
}

// TableName overrides the default table name for GORM.
func (CreditBalance) TableName() string {
	return "credit_balances"
}

// CreditLedgerEntry is the append-only record of a successful deduction.
// UsageRecordID is the idempotency key: a replay returns the stored entry
// instead of deducting again.
type CreditLedgerEntry struct {
	BaseModel

	UsageRecordID string `gorm:"type:varchar(128);not null;uniqueIndex" json:"usage_record_id"`
	UserID        string `gorm:"type:uuid;not null;index" json:"user_id"`

	Amount      int64  `gorm:"not null" json:"amount"`
	ServiceType string `gorm:"type:varchar(64)" json:"service_type"`
	Description string `gorm:"type:varchar(256)" json:"description"`

	Breakdown datatypes.JSON `json:"breakdown"`
}

// TableName overrides the default table name for GORM.
func (CreditLedgerEntry) TableName() string {
	return "credit_ledger_entries"
}

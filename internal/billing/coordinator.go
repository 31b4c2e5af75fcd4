package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edgefleet/authcore/internal/events"
	"github.com/edgefleet/authcore/internal/models"
	apperrors "github.com/edgefleet/authcore/pkg/errors"
	"github.com/edgefleet/authcore/pkg/metrics"
)

// sourceOrder is the fixed deduction priority.
var sourceOrder = []string{
	models.CreditSourceSubscription,
	models.CreditSourcePurchased,
	models.CreditSourceWallet,
}

// ConsumeInput describes one consumption request. UsageRecordID is the
// caller-supplied idempotency key.
type ConsumeInput struct {
	UserID        string
	Amount        int64
	UsageRecordID string
	ServiceType   string
	Description   string
}

// SourceDeduction is one slice of a consumption breakdown.
type SourceDeduction struct {
	Source string `json:"source"`
	Amount int64  `json:"amount"`
}

// ConsumeResult reports a consumption outcome. Insufficient credits is a
// result, not an error: Success is false and Reason explains why. Remaining
// carries the full per-source balance snapshot so callers never need a
// follow-up Balances call.
type ConsumeResult struct {
	Success        bool              `json:"success"`
	AlreadyApplied bool              `json:"already_applied"`
	Reason         string            `json:"reason,omitempty"`
	Breakdown      []SourceDeduction `json:"breakdown,omitempty"`
	Remaining      BalanceView       `json:"remaining"`
}

// BalanceView is the externally visible balance snapshot.
type BalanceView struct {
	UserID              string `json:"user_id"`
	SubscriptionCredits int64  `json:"subscription_credits"`
	PurchasedCredits    int64  `json:"purchased_credits"`
	WalletBalance       int64  `json:"wallet_balance"`
	SubscriptionActive  bool   `json:"subscription_active"`
	Total               int64  `json:"total"`
}

// Coordinator deducts credits across the user's funding sources in priority
// order: subscription, then purchased, then wallet. A deduction is all or
// nothing; partial spends never persist.
type Coordinator struct {
	db       *gorm.DB
	notifier events.Notifier
}

// NewCoordinator constructs the coordinator. A nil notifier disables events.
func NewCoordinator(db *gorm.DB, notifier events.Notifier) (*Coordinator, error) {
	if db == nil {
		return nil, errors.New("billing coordinator: db is required")
	}
	if notifier == nil {
		notifier = events.Noop{}
	}
	return &Coordinator{db: db, notifier: notifier}, nil
}

// Consume deducts Amount from the user's balances. Replays with a known
// usage record id return the stored outcome with AlreadyApplied set. The
// balance row is locked for the duration of the transaction, serialising
// concurrent consumptions per user.
func (c *Coordinator) Consume(ctx context.Context, input ConsumeInput) (*ConsumeResult, error) {
	userID := strings.TrimSpace(input.UserID)
	usageRecordID := strings.TrimSpace(input.UsageRecordID)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}
	if usageRecordID == "" {
		return nil, apperrors.NewValidation("usage record id is required")
	}
	if input.Amount <= 0 {
		return nil, apperrors.NewValidation("amount must be positive")
	}

	var result *ConsumeResult
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Idempotency check first: a matching ledger entry means the
		// deduction already happened and must not repeat.
		var entry models.CreditLedgerEntry
		lookupErr := tx.Where("usage_record_id = ?", usageRecordID).First(&entry).Error
		switch {
		case lookupErr == nil:
			replay, replayErr := c.replayResult(tx, &entry)
			if replayErr != nil {
				return replayErr
			}
			result = replay
			return nil
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
		default:
			return lookupErr
		}

		var balance models.CreditBalance
		balanceErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&balance).Error
		if errors.Is(balanceErr, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound.WithMessage("no credit balance for user")
		}
		if balanceErr != nil {
			return balanceErr
		}

		// Re-check under the lock: a concurrent call with the same usage
		// record id may have committed between the first lookup and the
		// lock acquisition. Seeing it here turns the loser into a clean
		// replay instead of a unique-index failure.
		lookupErr = tx.Where("usage_record_id = ?", usageRecordID).First(&entry).Error
		switch {
		case lookupErr == nil:
			replay, replayErr := c.replayResult(tx, &entry)
			if replayErr != nil {
				return replayErr
			}
			result = replay
			return nil
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
		default:
			return lookupErr
		}

		breakdown, covered := planDeductions(&balance, input.Amount)
		if !covered {
			// Roll back any tentative math by aborting: nothing below
			// has written yet, so returning here keeps balances intact.
			result = &ConsumeResult{
				Success:   false,
				Reason:    "insufficient_credits",
				Remaining: viewOf(&balance),
			}
			return nil
		}

		applyDeductions(&balance, breakdown)
		updates := map[string]any{
			"subscription_credits": balance.SubscriptionCredits,
			"purchased_credits":    balance.PurchasedCredits,
			"wallet_balance":       balance.WalletBalance,
		}
		if updateErr := tx.Model(&balance).Updates(updates).Error; updateErr != nil {
			return updateErr
		}

		raw, marshalErr := json.Marshal(breakdown)
		if marshalErr != nil {
			return marshalErr
		}
		ledger := models.CreditLedgerEntry{
			UsageRecordID: usageRecordID,
			UserID:        userID,
			Amount:        input.Amount,
			ServiceType:   strings.TrimSpace(input.ServiceType),
			Description:   strings.TrimSpace(input.Description),
			Breakdown:     datatypes.JSON(raw),
		}
		if createErr := tx.Create(&ledger).Error; createErr != nil {
			return createErr
		}

		result = &ConsumeResult{
			Success:   true,
			Breakdown: breakdown,
			Remaining: viewOf(&balance),
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperrors.NewStorage(err, "billing coordinator: consume")
	}

	c.publishOutcome(ctx, userID, usageRecordID, input, result)
	return result, nil
}

// replayResult reconstructs the original success result from the ledger entry.
func (c *Coordinator) replayResult(tx *gorm.DB, entry *models.CreditLedgerEntry) (*ConsumeResult, error) {
	var breakdown []SourceDeduction
	if len(entry.Breakdown) > 0 {
		if err := json.Unmarshal(entry.Breakdown, &breakdown); err != nil {
			return nil, err
		}
	}

	remaining := BalanceView{UserID: entry.UserID}
	var balance models.CreditBalance
	if err := tx.Where("user_id = ?", entry.UserID).First(&balance).Error; err == nil {
		remaining = viewOf(&balance)
	}

	return &ConsumeResult{
		Success:        true,
		AlreadyApplied: true,
		Breakdown:      breakdown,
		Remaining:      remaining,
	}, nil
}

func (c *Coordinator) publishOutcome(ctx context.Context, userID, usageRecordID string, input ConsumeInput, result *ConsumeResult) {
	if result.AlreadyApplied {
		metrics.CreditConsumptions.WithLabelValues("replayed").Inc()
		return
	}

	if !result.Success {
		metrics.CreditConsumptions.WithLabelValues("insufficient").Inc()
		c.notifier.Publish(ctx, events.SubjectCreditInsufficient, map[string]any{
			"user_id":         userID,
			"usage_record_id": usageRecordID,
			"amount":          input.Amount,
			"service_type":    strings.TrimSpace(input.ServiceType),
			"remaining":       result.Remaining,
		})
		return
	}

	metrics.CreditConsumptions.WithLabelValues("success").Inc()
	sources := make([]map[string]any, 0, len(result.Breakdown))
	for _, d := range result.Breakdown {
		metrics.CreditsConsumed.WithLabelValues(d.Source).Add(float64(d.Amount))
		sources = append(sources, map[string]any{"source": d.Source, "amount": d.Amount})
	}
	c.notifier.Publish(ctx, events.SubjectCreditConsumed, map[string]any{
		"user_id":         userID,
		"usage_record_id": usageRecordID,
		"amount":          input.Amount,
		"service_type":    strings.TrimSpace(input.ServiceType),
		"breakdown":       sources,
		"remaining":       result.Remaining,
	})
}

// planDeductions walks the sources in priority order and returns the slices
// needed to cover the amount, or covered=false when the balances fall short.
// Inactive subscriptions contribute nothing even with a positive balance.
func planDeductions(balance *models.CreditBalance, amount int64) ([]SourceDeduction, bool) {
	remaining := amount
	var breakdown []SourceDeduction

	for _, source := range sourceOrder {
		if remaining == 0 {
			break
		}
		available := availableFor(balance, source)
		if available <= 0 {
			continue
		}
		take := available
		if take > remaining {
			take = remaining
		}
		breakdown = append(breakdown, SourceDeduction{Source: source, Amount: take})
		remaining -= take
	}

	return breakdown, remaining == 0
}

func applyDeductions(balance *models.CreditBalance, breakdown []SourceDeduction) {
	for _, d := range breakdown {
		switch d.Source {
		case models.CreditSourceSubscription:
			balance.SubscriptionCredits -= d.Amount
		case models.CreditSourcePurchased:
			balance.PurchasedCredits -= d.Amount
		case models.CreditSourceWallet:
			balance.WalletBalance -= d.Amount
		}
	}
}

func availableFor(balance *models.CreditBalance, source string) int64 {
	switch source {
	case models.CreditSourceSubscription:
		if !balance.SubscriptionActive {
			return 0
		}
		return balance.SubscriptionCredits
	case models.CreditSourcePurchased:
		return balance.PurchasedCredits
	case models.CreditSourceWallet:
		return balance.WalletBalance
	default:
		return 0
	}
}

func totalBalance(balance *models.CreditBalance) int64 {
	total := balance.PurchasedCredits + balance.WalletBalance
	if balance.SubscriptionActive {
		total += balance.SubscriptionCredits
	}
	return total
}

// TopUpInput adds credits to one funding source.
type TopUpInput struct {
	UserID             string
	Source             string
	Amount             int64
	SubscriptionActive *bool
}

// TopUp credits the given source, creating the balance row on first use.
func (c *Coordinator) TopUp(ctx context.Context, input TopUpInput) (*BalanceView, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}
	if input.Amount < 0 {
		return nil, apperrors.NewValidation("amount must not be negative")
	}

	source := strings.ToLower(strings.TrimSpace(input.Source))
	switch source {
	case models.CreditSourceSubscription, models.CreditSourcePurchased, models.CreditSourceWallet:
	default:
		return nil, apperrors.NewValidation("unknown credit source: " + input.Source)
	}

	var balance models.CreditBalance
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookupErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&balance).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			balance = models.CreditBalance{UserID: userID}
			if createErr := tx.Create(&balance).Error; createErr != nil {
				return createErr
			}
		case lookupErr != nil:
			return lookupErr
		}

		switch source {
		case models.CreditSourceSubscription:
			balance.SubscriptionCredits += input.Amount
		case models.CreditSourcePurchased:
			balance.PurchasedCredits += input.Amount
		case models.CreditSourceWallet:
			balance.WalletBalance += input.Amount
		}
		if input.SubscriptionActive != nil {
			balance.SubscriptionActive = *input.SubscriptionActive
		}

		return tx.Save(&balance).Error
	})
	if err != nil {
		return nil, apperrors.NewStorage(err, "billing coordinator: top up")
	}

	view := viewOf(&balance)
	return &view, nil
}

// Balances returns the user's balance snapshot.
func (c *Coordinator) Balances(ctx context.Context, userID string) (*BalanceView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}

	var balance models.CreditBalance
	err := c.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("no credit balance for user")
	}
	if err != nil {
		return nil, apperrors.NewStorage(err, "billing coordinator: load balance")
	}

	view := viewOf(&balance)
	return &view, nil
}

// History lists the user's ledger entries, newest first.
func (c *Coordinator) History(ctx context.Context, userID string, limit int) ([]models.CreditLedgerEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var entries []models.CreditLedgerEntry
	err := c.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, apperrors.NewStorage(err, "billing coordinator: list ledger")
	}
	return entries, nil
}

func viewOf(balance *models.CreditBalance) BalanceView {
	return BalanceView{
		UserID:              balance.UserID,
		SubscriptionCredits: balance.SubscriptionCredits,
		PurchasedCredits:    balance.PurchasedCredits,
		WalletBalance:       balance.WalletBalance,
		SubscriptionActive:  balance.SubscriptionActive,
		Total:               totalBalance(balance),
	}
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgefleet/authcore/internal/billing"
	"github.com/edgefleet/authcore/internal/middleware"
	"github.com/edgefleet/authcore/pkg/response"
)

// BillingHandler exposes the credit consumption coordinator.
type BillingHandler struct {
	coordinator *billing.Coordinator
}

// NewBillingHandler constructs the handler.
func NewBillingHandler(coordinator *billing.Coordinator) *BillingHandler {
	return &BillingHandler{coordinator: coordinator}
}

type consumeRequest struct {
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount" validate:"required,min=1"`
	UsageRecordID string `json:"usage_record_id" validate:"required"`
	ServiceType   string `json:"service_type"`
	Description   string `json:"description"`
}

// Consume deducts credits. Insufficient balance returns 200 with success
// false; only malformed requests and storage failures are errors.
func (h *BillingHandler) Consume(c *gin.Context) {
	var req consumeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = middleware.PrincipalID(c)
	}

	result, err := h.coordinator.Consume(requestContext(c), billing.ConsumeInput{
		UserID:        userID,
		Amount:        req.Amount,
		UsageRecordID: req.UsageRecordID,
		ServiceType:   req.ServiceType,
		Description:   req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

type topUpRequest struct {
	UserID             string `json:"user_id" validate:"required"`
	Source             string `json:"source" validate:"required,oneof=subscription purchased wallet"`
	Amount             int64  `json:"amount" validate:"min=0"`
	SubscriptionActive *bool  `json:"subscription_active"`
}

// TopUp adds credits to one funding source.
func (h *BillingHandler) TopUp(c *gin.Context) {
	var req topUpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	view, err := h.coordinator.TopUp(requestContext(c), billing.TopUpInput{
		UserID:             req.UserID,
		Source:             req.Source,
		Amount:             req.Amount,
		SubscriptionActive: req.SubscriptionActive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// Balances returns the user's balance snapshot.
func (h *BillingHandler) Balances(c *gin.Context) {
	view, err := h.coordinator.Balances(requestContext(c), c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// History lists the user's recent ledger entries.
func (h *BillingHandler) History(c *gin.Context) {
	entries, err := h.coordinator.History(requestContext(c), c.Param("userID"), parseIntQuery(c, "limit", 50))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, entries)
}

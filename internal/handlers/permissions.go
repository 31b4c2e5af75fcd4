package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgefleet/authcore/internal/middleware"
	"github.com/edgefleet/authcore/internal/permissions"
	"github.com/edgefleet/authcore/pkg/response"
)

// PermissionsHandler exposes the permission store and access evaluator.
type PermissionsHandler struct {
	store     *permissions.Store
	evaluator *permissions.Evaluator
}

// NewPermissionsHandler constructs the handler.
func NewPermissionsHandler(store *permissions.Store, evaluator *permissions.Evaluator) *PermissionsHandler {
	return &PermissionsHandler{store: store, evaluator: evaluator}
}

type putPermissionRequest struct {
	PermissionType           string         `json:"permission_type" validate:"required"`
	TargetType               string         `json:"target_type" validate:"required"`
	TargetID                 string         `json:"target_id"`
	ResourceType             string         `json:"resource_type" validate:"required"`
	ResourceName             string         `json:"resource_name" validate:"required"`
	ResourceCategory         string         `json:"resource_category"`
	AccessLevel              string         `json:"access_level" validate:"required"`
	PermissionSource         string         `json:"permission_source" validate:"required"`
	SubscriptionTierRequired string         `json:"subscription_tier_required"`
	ExpiresAt                *time.Time     `json:"expires_at"`
	Metadata                 map[string]any `json:"metadata"`
}

// Put upserts a grant; an existing active grant with the same key is superseded.
func (h *PermissionsHandler) Put(c *gin.Context) {
	var req putPermissionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	record, err := h.store.Put(requestContext(c), permissions.PutInput{
		PermissionType:           req.PermissionType,
		TargetType:               req.TargetType,
		TargetID:                 req.TargetID,
		ResourceType:             req.ResourceType,
		ResourceName:             req.ResourceName,
		ResourceCategory:         req.ResourceCategory,
		AccessLevel:              req.AccessLevel,
		PermissionSource:         req.PermissionSource,
		SubscriptionTierRequired: req.SubscriptionTierRequired,
		ExpiresAt:                req.ExpiresAt,
		Metadata:                 req.Metadata,
		ActorID:                  middleware.PrincipalID(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, record)
}

// List returns grants matching the query filters.
func (h *PermissionsHandler) List(c *gin.Context) {
	records, err := h.store.List(requestContext(c), permissions.ListFilter{
		TargetType:      c.Query("target_type"),
		TargetID:        c.Query("target_id"),
		ResourceType:    c.Query("resource_type"),
		IncludeInactive: c.Query("include_inactive") == "true",
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, records)
}

type deactivatePermissionRequest struct {
	TargetType   string `json:"target_type" validate:"required"`
	TargetID     string `json:"target_id"`
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceName string `json:"resource_name" validate:"required"`
}

// Deactivate revokes the active grant for the key. Idempotent.
func (h *PermissionsHandler) Deactivate(c *gin.Context) {
	var req deactivatePermissionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	revoked, err := h.store.DeactivateBy(requestContext(c), permissions.Key{
		TargetType:   req.TargetType,
		TargetID:     req.TargetID,
		ResourceType: req.ResourceType,
		ResourceName: req.ResourceName,
	}, middleware.PrincipalID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": revoked})
}

type checkAccessRequest struct {
	PrincipalID      string `json:"principal_id"`
	OrganizationID   string `json:"organization_id"`
	ResourceType     string `json:"resource_type" validate:"required"`
	ResourceName     string `json:"resource_name" validate:"required"`
	RequiredLevel    string `json:"required_level" validate:"required"`
	SubscriptionTier string `json:"subscription_tier"`
	FailClosed       bool   `json:"fail_closed"`
}

// Check evaluates an access question. Defaults to the calling principal when
// no explicit principal id is supplied.
func (h *PermissionsHandler) Check(c *gin.Context) {
	var req checkAccessRequest
	if !bindAndValidate(c, &req) {
		return
	}

	principalID := req.PrincipalID
	if principalID == "" {
		principalID = middleware.PrincipalID(c)
	}
	orgID := req.OrganizationID
	if orgID == "" {
		orgID = middleware.OrganizationID(c)
	}

	decision, err := h.evaluator.CheckAccess(requestContext(c), permissions.CheckInput{
		PrincipalID:      principalID,
		OrganizationID:   orgID,
		ResourceType:     req.ResourceType,
		ResourceName:     req.ResourceName,
		RequiredLevel:    permissions.AccessLevel(req.RequiredLevel),
		SubscriptionTier: req.SubscriptionTier,
		FailClosed:       req.FailClosed,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, decision)
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgefleet/authcore/internal/middleware"
	"github.com/edgefleet/authcore/internal/models"
	"github.com/edgefleet/authcore/internal/sharing"
	"github.com/edgefleet/authcore/pkg/response"
)

// SharingsHandler exposes the sharing resource manager.
type SharingsHandler struct {
	service *sharing.Service
}

// NewSharingsHandler constructs the handler.
func NewSharingsHandler(service *sharing.Service) *SharingsHandler {
	return &SharingsHandler{service: service}
}

type createSharingRequest struct {
	OrganizationID string         `json:"organization_id" validate:"required"`
	ResourceType   string         `json:"resource_type" validate:"required"`
	ResourceID     string         `json:"resource_id" validate:"required"`
	ResourceName   string         `json:"resource_name"`
	DefaultLevel   string         `json:"default_level" validate:"required"`
	ShareWithAll   bool           `json:"share_with_all"`
	QuotaLimit     int64          `json:"quota_limit" validate:"min=0"`
	Restrictions   map[string]any `json:"restrictions"`
	ExpiresAt      *time.Time     `json:"expires_at"`
}

// Create shares a resource; the calling principal becomes the creator.
func (h *SharingsHandler) Create(c *gin.Context) {
	var req createSharingRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.CreateSharing(requestContext(c), sharing.CreateSharingInput{
		OrganizationID: req.OrganizationID,
		CreatorID:      middleware.PrincipalID(c),
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		ResourceName:   req.ResourceName,
		DefaultLevel:   req.DefaultLevel,
		ShareWithAll:   req.ShareWithAll,
		QuotaLimit:     req.QuotaLimit,
		Restrictions:   req.Restrictions,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// ListByOrg returns the organization's sharings, paginated.
func (h *SharingsHandler) ListByOrg(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	sharings, total, err := h.service.ListOrgSharings(requestContext(c), c.Param("orgID"), middleware.PrincipalID(c), sharing.ListFilter{
		ResourceType: c.Query("resource_type"),
		Status:       c.Query("status"),
		Page:         page,
		PageSize:     perPage,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	totalPages := 0
	if perPage > 0 {
		totalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	response.SuccessWithMeta(c, http.StatusOK, sharings, &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

type grantMemberRequest struct {
	MemberID      string `json:"member_id" validate:"required"`
	Level         string `json:"level" validate:"required"`
	QuotaOverride *int64 `json:"quota_override"`
}

// GrantMember grants or replaces a member's access on the sharing.
func (h *SharingsHandler) GrantMember(c *gin.Context) {
	var req grantMemberRequest
	if !bindAndValidate(c, &req) {
		return
	}

	grant, err := h.service.GrantMember(requestContext(c), sharing.GrantMemberInput{
		SharingID:     c.Param("id"),
		GranterID:     middleware.PrincipalID(c),
		MemberID:      req.MemberID,
		Level:         req.Level,
		QuotaOverride: req.QuotaOverride,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, grant)
}

// RevokeMember removes a member's access. Revoking an absent grant is not an error.
func (h *SharingsHandler) RevokeMember(c *gin.Context) {
	revoked, err := h.service.RevokeMember(requestContext(c), c.Param("id"), middleware.PrincipalID(c), c.Param("memberID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": revoked})
}

// CheckAccess reports whether a user may use the shared resource.
func (h *SharingsHandler) CheckAccess(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = middleware.PrincipalID(c)
	}

	allowed, err := h.service.CheckSharingAccess(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"allowed": allowed})
}

// Pause suspends an active sharing.
func (h *SharingsHandler) Pause(c *gin.Context) {
	h.transition(c, h.service.Pause)
}

// Resume reactivates a paused sharing.
func (h *SharingsHandler) Resume(c *gin.Context) {
	h.transition(c, h.service.Resume)
}

// Revoke terminates a sharing permanently.
func (h *SharingsHandler) Revoke(c *gin.Context) {
	h.transition(c, h.service.Revoke)
}

func (h *SharingsHandler) transition(c *gin.Context, fn func(ctx context.Context, sharingID, actorID string) (*models.SharingResource, error)) {
	result, err := fn(requestContext(c), c.Param("id"), middleware.PrincipalID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// RecordUsage bumps the sharing's usage counter.
func (h *SharingsHandler) RecordUsage(c *gin.Context) {
	if err := h.service.RecordUsage(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"recorded": true})
}

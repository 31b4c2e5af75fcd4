package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgefleet/authcore/internal/audit"
	"github.com/edgefleet/authcore/pkg/response"
)

// AuditHandler exposes read access to the audit trail.
type AuditHandler struct {
	service *audit.Service
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(service *audit.Service) *AuditHandler {
	return &AuditHandler{service: service}
}

// List returns paginated audit entries, newest first.
func (h *AuditHandler) List(c *gin.Context) {
	filters := audit.Filters{
		ActorID:  c.Query("actor_id"),
		Action:   c.Query("action"),
		Result:   c.Query("result"),
		Resource: c.Query("resource"),
	}
	if since := c.Query("since"); since != "" {
		if ts, err := time.Parse(time.RFC3339, since); err == nil {
			filters.Since = &ts
		}
	}
	if until := c.Query("until"); until != "" {
		if ts, err := time.Parse(time.RFC3339, until); err == nil {
			filters.Until = &ts
		}
	}

	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	entries, total, err := h.service.List(requestContext(c), audit.ListOptions{
		Page:     page,
		PageSize: perPage,
		Filters:  filters,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	totalPages := 0
	if perPage > 0 {
		totalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	response.SuccessWithMeta(c, http.StatusOK, entries, &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/edgefleet/authcore/pkg/errors"
	"github.com/edgefleet/authcore/pkg/response"
)

// Header names set by the gateway in front of this service. Authentication
// itself happens upstream; these carry the already-verified identity.
const (
	HeaderPrincipalID    = "X-Principal-ID"
	HeaderOrganizationID = "X-Org-ID"
)

// Context keys populated by Principal.
const (
	ContextPrincipalID    = "principal_id"
	ContextOrganizationID = "organization_id"
)

// Principal extracts the calling identity from gateway headers and rejects
// requests that arrive without one.
func Principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		principalID := strings.TrimSpace(c.GetHeader(HeaderPrincipalID))
		if principalID == "" {
			response.Error(c, apperrors.ErrUnauthorized.WithMessage("missing principal header"))
			c.Abort()
			return
		}

		c.Set(ContextPrincipalID, principalID)
		if orgID := strings.TrimSpace(c.GetHeader(HeaderOrganizationID)); orgID != "" {
			c.Set(ContextOrganizationID, orgID)
		}
		c.Next()
	}
}

// PrincipalID returns the identity stored by Principal, empty when absent.
func PrincipalID(c *gin.Context) string {
	return c.GetString(ContextPrincipalID)
}

// OrganizationID returns the optional org scope header, empty when absent.
func OrganizationID(c *gin.Context) string {
	return c.GetString(ContextOrganizationID)
}

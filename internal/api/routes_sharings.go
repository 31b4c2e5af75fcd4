package api

import (
	"github.com/gin-gonic/gin"

	"github.com/edgefleet/authcore/internal/handlers"
)

func registerSharingRoutes(api *gin.RouterGroup, handler *handlers.SharingsHandler) {
	sharings := api.Group("/sharings")
	{
		sharings.POST("", handler.Create)
		sharings.POST("/:id/members", handler.GrantMember)
		sharings.DELETE("/:id/members/:memberID", handler.RevokeMember)
		sharings.GET("/:id/access", handler.CheckAccess)
		sharings.POST("/:id/pause", handler.Pause)
		sharings.POST("/:id/resume", handler.Resume)
		sharings.POST("/:id/revoke", handler.Revoke)
		sharings.POST("/:id/usage", handler.RecordUsage)
	}
	api.GET("/organizations/:orgID/sharings", handler.ListByOrg)
}

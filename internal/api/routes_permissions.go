package api

import (
	"github.com/gin-gonic/gin"

	"github.com/edgefleet/authcore/internal/handlers"
)

func registerPermissionRoutes(api *gin.RouterGroup, handler *handlers.PermissionsHandler) {
	perms := api.Group("/permissions")
	{
		perms.POST("", handler.Put)
		perms.GET("", handler.List)
		perms.DELETE("", handler.Deactivate)
		perms.POST("/check", handler.Check)
	}
}

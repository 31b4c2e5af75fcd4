package api

import (
	"github.com/gin-gonic/gin"

	"github.com/edgefleet/authcore/internal/handlers"
)

func registerBillingRoutes(api *gin.RouterGroup, handler *handlers.BillingHandler) {
	billing := api.Group("/billing")
	{
		billing.POST("/consume", handler.Consume)
		billing.POST("/topup", handler.TopUp)
		billing.GET("/balances/:userID", handler.Balances)
		billing.GET("/history/:userID", handler.History)
	}
}

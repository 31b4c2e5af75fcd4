package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/edgefleet/authcore/pkg/response"
)

// HealthHandler reports service liveness and database reachability.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler constructs the handler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check returns 200 when the database answers, 503 otherwise.
func (h *HealthHandler) Check(c *gin.Context) {
	status := "ok"
	dbStatus := "ok"

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(requestContext(c))
	}
	if err != nil {
		status = "degraded"
		dbStatus = "unreachable"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	response.Success(c, code, gin.H{
		"status":   status,
		"database": dbStatus,
	})
}

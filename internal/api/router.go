package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/edgefleet/authcore/internal/audit"
	"github.com/edgefleet/authcore/internal/billing"
	"github.com/edgefleet/authcore/internal/handlers"
	"github.com/edgefleet/authcore/internal/middleware"
	"github.com/edgefleet/authcore/internal/permissions"
	"github.com/edgefleet/authcore/internal/sharing"
)

// Services carries the wired domain services the router exposes.
type Services struct {
	Store     *permissions.Store
	Evaluator *permissions.Evaluator
	Sharing   *sharing.Service
	Billing   *billing.Coordinator
	Audit     *audit.Service
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, svcs Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if svcs.Store == nil || svcs.Evaluator == nil {
		return nil, fmt.Errorf("permission store and evaluator must be provided")
	}
	if svcs.Sharing == nil {
		return nil, fmt.Errorf("sharing service must be provided")
	}
	if svcs.Billing == nil {
		return nil, fmt.Errorf("billing coordinator must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	r.GET("/health", handlers.NewHealthHandler(db).Check)

	// Identity comes from gateway headers; everything under /api requires it.
	api := r.Group("/api")
	api.Use(middleware.Principal())

	registerPermissionRoutes(api, handlers.NewPermissionsHandler(svcs.Store, svcs.Evaluator))
	registerSharingRoutes(api, handlers.NewSharingsHandler(svcs.Sharing))
	registerBillingRoutes(api, handlers.NewBillingHandler(svcs.Billing))

	if svcs.Audit != nil {
		api.GET("/audit", handlers.NewAuditHandler(svcs.Audit).List)
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

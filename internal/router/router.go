package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/config"
	"github.com/ikkim/storecover-backend/internal/app/controller"
	"github.com/ikkim/storecover-backend/internal/app/model"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	"github.com/ikkim/storecover-backend/internal/middleware"
	"github.com/ikkim/storecover-backend/pkg/logger"
)

type Router struct {
	sessionController *controller.SessionController
	importController  *controller.ImportController
	storeController   *controller.StoreController
	policyController  *controller.PolicyController
	pricingController *controller.PricingController
	authMiddleware    *middleware.AuthMiddleware
	config            *config.Config
}

func NewRouter(
	sessionController *controller.SessionController,
	importController *controller.ImportController,
	storeController *controller.StoreController,
	policyController *controller.PolicyController,
	pricingController *controller.PricingController,
	authMiddleware *middleware.AuthMiddleware,
	cfg *config.Config,
) *Router {
	return &Router{
		sessionController: sessionController,
		importController:  importController,
		storeController:   storeController,
		policyController:  policyController,
		pricingController: pricingController,
		authMiddleware:    authMiddleware,
		config:            cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	gin.SetMode(r.config.Server.GinMode)

	router := gin.New()

	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.CustomRecovery(recoverWithError))
	router.Use(corsMiddleware(r.config.CORS.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"message": "StoreCover API is running",
		})
	})

	// every API route needs a token; writes need an admin or broker
	writer := r.authMiddleware.RequireRole(model.RoleAdmin, model.RoleBroker)
	admin := r.authMiddleware.RequireRole(model.RoleAdmin)

	v1 := router.Group("/api/v1")
	v1.Use(r.authMiddleware.Authenticate())
	{
		session := v1.Group("/session")
		{
			session.POST("", r.sessionController.StartSession)
			session.DELETE("", r.sessionController.EndSession)
		}

		imports := v1.Group("/imports")
		{
			imports.GET("", r.importController.ListJobs)
			imports.GET("/ws", r.importController.Events)
			imports.GET("/:id", r.importController.GetJob)
			imports.POST("", writer, r.importController.UploadFile)
			imports.DELETE("/:id", writer, r.importController.DeleteJob)
		}

		stores := v1.Group("/stores")
		{
			stores.GET("", r.storeController.ListStores)
			stores.GET("/:code", r.storeController.GetStore)
			stores.GET("/:code/audit", r.storeController.GetAuditLog)
			stores.POST("", writer, r.storeController.CreateStore)
			stores.PATCH("/:code", writer, r.storeController.UpdateStore)
			stores.POST("/:code/:action", writer, r.storeController.Transition)
		}

		policies := v1.Group("/policies")
		{
			policies.GET("", r.policyController.ListPolicies)
			policies.GET("/:id", r.policyController.GetPolicy)
			policies.GET("/:id/certificates", r.policyController.ListCertificates)
			policies.POST("", writer, r.policyController.CreatePolicy)
			policies.POST("/:id/cancel", writer, r.policyController.CancelPolicy)
			policies.POST("/:id/renew", writer, r.policyController.RenewPolicy)
			policies.POST("/:id/certificates", writer, r.policyController.IssueCertificate)
		}

		v1.GET("/certificates/:id/download", r.policyController.DownloadCertificate)
		v1.GET("/portfolio/summary", r.policyController.GetPortfolioSummary)

		pricing := v1.Group("/pricing")
		{
			pricing.GET("/configs", r.pricingController.ListConfigs)
			pricing.POST("/quote", r.pricingController.Quote)
			pricing.POST("/configs", admin, r.pricingController.CreateConfig)
			pricing.POST("/reload", admin, r.pricingController.ReloadConfigs)
		}
	}

	return router
}

// recoverWithError answers a panicking handler with the standard error body.
func recoverWithError(c *gin.Context, recovered interface{}) {
	logger.Error("Handler panicked", fmt.Errorf("%v", recovered), map[string]interface{}{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
	})
	apperrors.InternalError(c, "")
	c.Abort()
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin || allowedOrigin == "*" {
				allowed = true
				break
			}
		}

		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, X-Request-ID, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

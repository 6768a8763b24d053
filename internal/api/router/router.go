package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.HealthChecks))

	ingestionHandler := handler.NewIngestionHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		ingestions := v1.Group("/ingestions")
		{
			ingestions.POST("", ingestionHandler.CreateIngestion)
			ingestions.GET("", ingestionHandler.ListIngestions)
			ingestions.GET("/:request_id", ingestionHandler.GetIngestion)
			ingestions.GET("/:request_id/events", ingestionHandler.WatchIngestion)
			ingestions.POST("/:request_id/cancel", ingestionHandler.CancelIngestion)
			ingestions.DELETE("/:request_id", ingestionHandler.DeleteIngestion)
		}

		v1.GET("/job-offers/:external_id", ingestionHandler.GetJobOffer)
	}

	return r
}

// healthHandler runs every dependency check and reports 503 if any fails
func healthHandler(checks map[string]handler.HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		health := "healthy"
		if status != http.StatusOK {
			health = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":       health,
			"service":      "offer-ingest-api",
			"dependencies": results,
		})
	}
}

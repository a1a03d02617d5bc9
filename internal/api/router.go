// Package api exposes the admin HTTP surface and the gRPC ops listener.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

// StatusReporter exposes the most recent cycle summary.
type StatusReporter interface {
	LastSummary() (models.CycleSummary, bool)
}

// NewRouter builds the admin router: health, cycle status, test alerts and
// Prometheus metrics.
func NewRouter(logger *slog.Logger, status StatusReporter, testAlert func(c *gin.Context) models.DispatchResult) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			summary, ok := status.LastSummary()
			if !ok {
				c.JSON(http.StatusOK, gin.H{"status": "no cycles completed yet"})
				return
			}
			c.JSON(http.StatusOK, summary)
		})

		v1.POST("/alerts/test", func(c *gin.Context) {
			result := testAlert(c)
			logger.Info("test alert dispatched",
				slog.String("alert_id", result.AlertID),
				slog.Bool("success", result.Success),
			)
			code := http.StatusOK
			if !result.Success && !result.RateLimited {
				code = http.StatusBadGateway
			}
			c.JSON(code, result)
		})
	}

	return router
}

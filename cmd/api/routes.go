package main

import (
	"database/sql"
	"net/http"
	"time"

	"call-monitor/internal/httpapi"
	"call-monitor/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, db *sql.DB) {
	r.GET("/healthz", func(c *gin.Context) {
		if db != nil {
			if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/status", h.Status)
		v1.GET("/ws", h.Subscribe)

		callsGroup := v1.Group("/calls")
		callsGroup.GET("", h.ListCalls)
		callsGroup.GET("/:callId", h.GetCall)
		callsGroup.GET("/:callId/transcripts", h.ListTranscripts)
		callsGroup.GET("/:callId/stream/:channel", h.StreamAudio)
	}
}

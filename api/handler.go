// Package api exposes the load generator's control surface: start a run
// against a config/flow pair, stop it, and read back live metrics.
// Grounded on runtime/app.go's gin.Engine construction and
// runtime/http_handler.go's route-registration style.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rdwr-taly/flowrunner-cli/runtime"
)

// startRequest is the POST /start body: a human-authored (alias-keyed)
// config map alongside the flow document as raw YAML text.
type startRequest struct {
	Config map[string]any `json:"config" binding:"required"`
	Flow   string         `json:"flow" binding:"required"`
}

// NewHandler builds a gin.Engine with the control surface mounted,
// dispatching every route to orch.
func NewHandler(orch *runtime.Orchestrator) *gin.Engine {
	g := gin.Default()
	g.POST("/start", handleStart(orch))
	g.POST("/stop", handleStop(orch))
	g.GET("/metrics", handleMetrics(orch))
	return g
}

func handleStart(orch *runtime.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := orch.Start(req.Config, []byte(req.Flow)); err != nil {
			writeStartError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "started", "activeUsers": orch.ActiveUserCount()})
	}
}

func handleStop(orch *runtime.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		orch.Stop()
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	}
}

func handleMetrics(orch *runtime.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.MetricsSnapshot())
	}
}

// writeStartError maps a ValidationError to a 400 with its field-level
// messages; any other error (bad flow YAML, bad target URL) is also a
// client-input problem, so it gets the same status with a flat message.
func writeStartError(c *gin.Context, err error) {
	if ve, ok := err.(*runtime.ValidationError); ok {
		c.JSON(http.StatusBadRequest, gin.H{"field": ve.Field, "message": ve.Message})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

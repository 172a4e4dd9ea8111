package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"agrosmart/internal/log"
	"agrosmart/internal/models"
	"agrosmart/internal/store"
	"agrosmart/internal/web/middleware"
	webmodels "agrosmart/internal/web/models"

	"github.com/gin-gonic/gin"
)

const (
	DefaultTelemetryLimit = 20
	MaxTelemetryLimit     = 200
	DefaultHistoryLimit   = 50
	MaxHistoryLimit       = 500
)

// CommandReader loads one command record.
type CommandReader interface {
	GetCommand(ctx context.Context, deviceID, commandID string) (*models.Command, error)
}

// parseLimit clamps the limit query parameter into [1, upper]. A value that
// is not an integer is rejected.
func parseLimit(c *gin.Context, def, upper int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	if n < 1 {
		n = 1
	}
	if n > upper {
		n = upper
	}
	return n, true
}

func RegisterDeviceRoutes(router *gin.Engine, mw *middleware.MiddlewareManager, commands CommandReader, history store.HistoryReader, telemetry store.TelemetryLister, logger log.Logger) {
	devices := router.Group("/devices/:device_id")
	devices.Use(mw.RequireAuth(), mw.RequireDeviceAccess())
	{
		devices.GET("/commands/:command_id", func(c *gin.Context) {
			cmd, err := commands.GetCommand(c.Request.Context(), c.Param("device_id"), c.Param("command_id"))
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Command not found"})
				return
			}
			if err != nil {
				logger.Error(err, "failed to fetch command", "device_id", c.Param("device_id"))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch command"})
				return
			}
			c.JSON(http.StatusOK, cmd)
		})

		devices.GET("/history", func(c *gin.Context) {
			limit, ok := parseLimit(c, DefaultHistoryLimit, MaxHistoryLimit)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			deviceID := c.Param("device_id")
			entries, err := history.ListHistory(c.Request.Context(), deviceID, limit)
			if err != nil {
				logger.Error(err, "failed to fetch history", "device_id", deviceID)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
				return
			}
			if entries == nil {
				entries = []models.HistoryEntry{}
			}
			c.JSON(http.StatusOK, webmodels.HistoryResponse{DeviceID: deviceID, Count: len(entries), Items: entries})
		})

		devices.GET("/telemetry", func(c *gin.Context) {
			limit, ok := parseLimit(c, DefaultTelemetryLimit, MaxTelemetryLimit)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			deviceID := c.Param("device_id")
			readings, err := telemetry.Recent(c.Request.Context(), deviceID, limit)
			if err != nil {
				logger.Error(err, "failed to fetch telemetry", "device_id", deviceID)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch telemetry"})
				return
			}
			if readings == nil {
				readings = []models.TelemetryReading{}
			}
			c.JSON(http.StatusOK, webmodels.TelemetryResponse{DeviceID: deviceID, Count: len(readings), Items: readings})
		})
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"agrosmart/internal/command"
	"agrosmart/internal/log"
	"agrosmart/internal/web/middleware"
	"agrosmart/internal/web/models"

	"github.com/gin-gonic/gin"
)

// CommandIssuer creates and publishes one command.
type CommandIssuer interface {
	Issue(ctx context.Context, req command.Request) (command.Result, error)
}

// AckTopics names the topic a device acknowledges on.
type AckTopics interface {
	Ack(deviceID string) string
}

func idempotencyKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(c.GetHeader("X-Idempotency-Key"))
}

func RegisterCommandRoutes(router *gin.Engine, mw *middleware.MiddlewareManager, issuer CommandIssuer, topics AckTopics, logger log.Logger) {
	commands := router.Group("/commands")
	commands.Use(mw.RequireAuth())
	{
		commands.POST("", func(c *gin.Context) {
			var body models.SendCommandRequest
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}

			deviceID := strings.TrimSpace(body.DeviceID)
			if !command.ValidDeviceID(deviceID) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device_id"})
				return
			}

			userID := c.GetString(middleware.UserIDKey)
			if !mw.CanAccessDevice(c.Request.Context(), userID, deviceID) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
				return
			}

			key := idempotencyKey(c)
			commandID, err := command.ResolveManualCommandID(deviceID, body.CommandID, key)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			res, err := issuer.Issue(c.Request.Context(), command.Request{
				DeviceID:        deviceID,
				CommandID:       commandID,
				Action:          body.Action,
				Duration:        body.Duration,
				Origin:          body.Origin,
				RequestedBy:     userID,
				RequestID:       key,
				RepublishFailed: true,
			})
			if errors.Is(err, command.ErrInvalidRequest) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				logger.Error(err, "send command failed", "device_id", deviceID, "command_id", commandID)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
				return
			}

			switch res.Outcome {
			case command.OutcomeDuplicate:
				c.JSON(http.StatusOK, gin.H{
					"message":    fmt.Sprintf("Command %s already exists (idempotent), not republished", commandID),
					"command_id": commandID,
					"status":     res.Command.Status,
				})
			case command.OutcomePublishFailed:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "command_id": commandID})
			default:
				duration := 0
				if res.Command.RequestedDuration != nil {
					duration = *res.Command.RequestedDuration
				}
				c.JSON(http.StatusOK, models.SendCommandResponse{
					Message:        "Command sent",
					Target:         deviceID,
					CommandID:      commandID,
					Duration:       duration,
					IdempotencyKey: key,
					Topics: models.CommandTopics{
						Command: res.Topic,
						Ack:     topics.Ack(deviceID),
					},
					Republished: res.Republished,
				})
			}
		})
	}
}

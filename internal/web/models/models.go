package models

import (
	"time"

	"agrosmart/internal/models"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SendCommandRequest is the body of POST /commands.
type SendCommandRequest struct {
	DeviceID  string `json:"device_id" binding:"required"`
	Action    string `json:"action" binding:"required"`
	Duration  int    `json:"duration"`
	Origin    string `json:"origin"`
	CommandID string `json:"command_id"`
}

type CommandTopics struct {
	Command string `json:"command"`
	Ack     string `json:"ack"`
}

type SendCommandResponse struct {
	Message        string        `json:"message"`
	Target         string        `json:"target"`
	CommandID      string        `json:"command_id"`
	Duration       int           `json:"duration"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	Topics         CommandTopics `json:"topics"`
	Republished    bool          `json:"republished,omitempty"`
}

type TelemetryResponse struct {
	DeviceID string                    `json:"device_id"`
	Count    int                       `json:"count"`
	Items    []models.TelemetryReading `json:"items"`
}

type HistoryResponse struct {
	DeviceID string                `json:"device_id"`
	Count    int                   `json:"count"`
	Items    []models.HistoryEntry `json:"items"`
}

type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrosmart/internal/history"
	"agrosmart/internal/log"
	"agrosmart/internal/metrics"
	"agrosmart/internal/models"
	"agrosmart/internal/store"
)

// ErrInvalidRequest marks a command request rejected by validation.
var ErrInvalidRequest = errors.New("invalid command request")

// DefaultMaxDurationSeconds caps a single irrigation run.
const DefaultMaxDurationSeconds = 900

const maxOriginLen = 30

// Publisher sends a downlink payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TrackedPublisher is a Publisher that can tell whether an abandoned
// publish under the same key may still be delivered.
type TrackedPublisher interface {
	Publisher
	PublishKeyed(ctx context.Context, key, topic string, payload []byte) error
	MayHaveSent(key string) bool
}

// TopicResolver maps a device to its command topic.
type TopicResolver interface {
	Command(deviceID string) string
}

// Downlink is the JSON body sent to the device.
type Downlink struct {
	DeviceID   string `json:"device_id"`
	CommandID  string `json:"command_id"`
	Action     string `json:"action"`
	Duration   int    `json:"duration"`
	Origin     string `json:"origin"`
	ScheduleID string `json:"schedule_id,omitempty"`
	IssuedAt   string `json:"issued_at,omitempty"`
}

// Request asks the issuer to create and publish one command.
type Request struct {
	DeviceID    string
	CommandID   string
	Action      string
	Duration    int // seconds
	Origin      string
	Schedule    *models.ScheduleRef
	RequestedBy string
	RequestID   string

	// RepublishFailed lets a retry with the same id publish again when the
	// stored command is publish_failed and the failed attempt can no longer
	// be delivered.
	RepublishFailed bool
}

type Outcome string

const (
	OutcomeExecuted      Outcome = "executed"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomePublishFailed Outcome = "publish_failed"
)

// Result describes what Issue did.
type Result struct {
	Outcome     Outcome
	Command     *models.Command
	Topic       string
	Republished bool
	PublishErr  error
}

type IssuerConfig struct {
	MaxDurationSeconds int
	QoS                byte
	StoreTimeout       time.Duration
	PublishTimeout     time.Duration
}

// Issuer performs create-once insertion and the downlink publish.
type Issuer struct {
	store     store.CommandStore
	history   *history.Writer
	publisher Publisher
	topics    TopicResolver
	cfg       IssuerConfig
	now       func() time.Time
	log       log.Logger
}

func NewIssuer(cs store.CommandStore, hw *history.Writer, pub Publisher, topics TopicResolver, cfg IssuerConfig, logger log.Logger) *Issuer {
	if cfg.MaxDurationSeconds <= 0 {
		cfg.MaxDurationSeconds = DefaultMaxDurationSeconds
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Issuer{
		store:     cs,
		history:   hw,
		publisher: pub,
		topics:    topics,
		cfg:       cfg,
		now:       time.Now,
		log:       logger,
	}
}

// SetClock replaces the time source.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// MaxDurationSeconds returns the configured cap.
func (i *Issuer) MaxDurationSeconds() int {
	return i.cfg.MaxDurationSeconds
}

// Validate normalizes req and rejects it when it cannot be issued.
// "off" always carries duration 0; "on" needs 0 < duration <= max.
func (i *Issuer) Validate(req Request) (Request, error) {
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if !ValidDeviceID(req.DeviceID) {
		return req, fmt.Errorf("%w: invalid device_id", ErrInvalidRequest)
	}
	if !ValidCommandID(req.CommandID) {
		return req, fmt.Errorf("%w: invalid command_id", ErrInvalidRequest)
	}

	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	switch req.Action {
	case models.ActionOff:
		req.Duration = 0
	case models.ActionOn:
		if req.Duration <= 0 {
			return req, fmt.Errorf("%w: duration must be positive for action on", ErrInvalidRequest)
		}
		if req.Duration > i.cfg.MaxDurationSeconds {
			return req, fmt.Errorf("%w: duration must be between 1 and %d", ErrInvalidRequest, i.cfg.MaxDurationSeconds)
		}
	default:
		return req, fmt.Errorf("%w: action must be 'on' or 'off'", ErrInvalidRequest)
	}

	req.Origin = strings.TrimSpace(req.Origin)
	if req.Origin == "" {
		req.Origin = models.OriginManual
	}
	if len(req.Origin) > maxOriginLen {
		req.Origin = req.Origin[:maxOriginLen]
	}
	return req, nil
}

// Issue creates the command record once and publishes it. A duplicate id is
// a no-op that never publishes. A publish failure is persisted on the
// record and reported through Result, not as an error.
func (i *Issuer) Issue(ctx context.Context, req Request) (Result, error) {
	req, err := i.Validate(req)
	if err != nil {
		metrics.CommandsIssued.WithLabelValues(req.Origin, "invalid").Inc()
		return Result{}, err
	}

	now := i.now().UTC()
	topic := i.topics.Command(req.DeviceID)
	cmd := newRecord(req, topic, i.cfg.QoS, now)
	logger := log.ForCommand(i.log, req.DeviceID, req.CommandID, "origin", req.Origin)

	created, err := i.create(ctx, cmd)
	if err != nil {
		metrics.CommandsIssued.WithLabelValues(req.Origin, "error").Inc()
		return Result{}, fmt.Errorf("failed to create command %s: %w", req.CommandID, err)
	}

	republish := false
	if !created {
		existing, err := i.get(ctx, req.DeviceID, req.CommandID)
		if err != nil {
			logger.Warn("duplicate command could not be read back", "error", err)
			existing = cmd
		}
		retry := req.RepublishFailed && existing.Status == models.StatusPublishFailed
		if retry && i.mayHaveSent(req.DeviceID, req.CommandID) {
			logger.Warn("earlier publish may still be delivered, not republished")
			retry = false
		}
		if !retry {
			i.history.Write(ctx, history.Duplicate(existing, now))
			metrics.CommandsIssued.WithLabelValues(req.Origin, string(OutcomeDuplicate)).Inc()
			logger.Info("command already exists, not republished", "status", string(existing.Status))
			return Result{Outcome: OutcomeDuplicate, Command: existing, Topic: existing.MQTT.Topic}, nil
		}
		logger.Info("republishing command after earlier publish failure")
		cmd = existing
		if cmd.MQTT.Topic != "" {
			topic = cmd.MQTT.Topic
		}
		republish = true
	}

	if err := i.publish(ctx, topic, cmd, now); err != nil {
		logger.Error(err, "downlink publish failed", "topic", topic)
		msg := history.TruncateError(err)
		patch := models.CommandPatch{
			Status:       models.StatusPublishFailed,
			LastStatus:   string(models.StatusPublishFailed),
			LastStatusAt: &now,
			StatusTS:     map[string]time.Time{string(models.StatusPublishFailed): now},
			Error:        &models.CommandError{Type: models.ErrorTypePublish, Message: msg},
			UpdatedAt:    now,
		}
		if mErr := i.merge(ctx, cmd.DeviceID, cmd.CommandID, patch); mErr != nil {
			logger.Error(mErr, "failed to mark command publish_failed")
		}
		patch.Apply(cmd)
		i.history.Write(ctx, history.PublishFailed(cmd, err, now))
		metrics.CommandsIssued.WithLabelValues(req.Origin, string(OutcomePublishFailed)).Inc()
		return Result{Outcome: OutcomePublishFailed, Command: cmd, Topic: topic, Republished: republish, PublishErr: err}, nil
	}

	entry := history.Execution(cmd, now)
	if republish {
		entry.Details["republished"] = true
	}
	i.history.Write(ctx, entry)
	metrics.CommandsIssued.WithLabelValues(req.Origin, string(OutcomeExecuted)).Inc()
	logger.Info("command published", "topic", topic, "action", cmd.RequestedAction)
	return Result{Outcome: OutcomeExecuted, Command: cmd, Topic: topic, Republished: republish}, nil
}

func newRecord(req Request, topic string, qos byte, now time.Time) *models.Command {
	duration := req.Duration
	return &models.Command{
		DeviceID:          req.DeviceID,
		CommandID:         req.CommandID,
		Origin:            req.Origin,
		RequestedAction:   req.Action,
		RequestedDuration: &duration,
		Schedule:          req.Schedule,
		MQTT:              models.MQTTRef{Topic: topic, QoS: qos},
		RequestedBy:       req.RequestedBy,
		RequestID:         req.RequestID,
		SchemaVersion:     models.SchemaVersion,
		CreatedAt:         now,
		Status:            models.StatusPending,
		LastStatus:        string(models.StatusPending),
		LastStatusAt:      &now,
		StatusTS:          map[string]time.Time{string(models.StatusPending): now},
		UpdatedAt:         now,
	}
}

func (i *Issuer) create(ctx context.Context, cmd *models.Command) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.StoreTimeout)
	defer cancel()
	return i.store.CreateCommand(ctx, cmd)
}

func (i *Issuer) get(ctx context.Context, deviceID, commandID string) (*models.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.StoreTimeout)
	defer cancel()
	return i.store.GetCommand(ctx, deviceID, commandID)
}

func (i *Issuer) merge(ctx context.Context, deviceID, commandID string, patch models.CommandPatch) error {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.StoreTimeout)
	defer cancel()
	return i.store.MergeCommand(ctx, deviceID, commandID, patch)
}

func (i *Issuer) publish(ctx context.Context, topic string, cmd *models.Command, now time.Time) error {
	msg := Downlink{
		DeviceID:  cmd.DeviceID,
		CommandID: cmd.CommandID,
		Action:    cmd.RequestedAction,
		Origin:    cmd.Origin,
		IssuedAt:  now.Format(time.RFC3339),
	}
	if cmd.RequestedDuration != nil {
		msg.Duration = *cmd.RequestedDuration
	}
	if cmd.Schedule != nil {
		msg.ScheduleID = cmd.Schedule.ID
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode downlink: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	if tp, ok := i.publisher.(TrackedPublisher); ok {
		err = tp.PublishKeyed(ctx, publishKey(cmd.DeviceID, cmd.CommandID), topic, payload)
	} else {
		err = i.publisher.Publish(ctx, topic, payload)
	}
	metrics.PublishLatency.Observe(time.Since(start).Seconds())
	return err
}

func (i *Issuer) mayHaveSent(deviceID, commandID string) bool {
	tp, ok := i.publisher.(TrackedPublisher)
	return ok && tp.MayHaveSent(publishKey(deviceID, commandID))
}

func publishKey(deviceID, commandID string) string {
	return deviceID + "/" + commandID
}

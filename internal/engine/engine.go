package engine

import (
	"context"
	"sync"
	"time"

	"agrosmart/internal/log"
	"agrosmart/internal/metrics"
	"agrosmart/internal/models"
	agmqtt "agrosmart/internal/mqtt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// AckEnqueuer hands raw acknowledgments to the task queue.
type AckEnqueuer interface {
	EnqueueAck(ctx context.Context, topic string, raw []byte) error
}

// TelemetryAppender stores one reading.
type TelemetryAppender interface {
	Append(ctx context.Context, r models.TelemetryReading) (string, error)
}

// Engine bridges the broker to the rest of the dispatcher. Acks are queued
// for the worker and telemetry goes straight to the stream store.
type Engine struct {
	topics    agmqtt.Topics
	acks      AckEnqueuer
	telemetry TelemetryAppender
	timeout   time.Duration
	now       func() time.Time
	log       log.Logger

	mu     sync.Mutex
	client mqtt.Client
}

// NewEngine creates a new engine instance
func NewEngine(topics agmqtt.Topics, acks AckEnqueuer, telemetry TelemetryAppender, timeout time.Duration, logger log.Logger) *Engine {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{
		topics:    topics,
		acks:      acks,
		telemetry: telemetry,
		timeout:   timeout,
		now:       time.Now,
		log:       logger,
	}
}

// Subscribe registers the ack and telemetry handlers on client. It is
// meant to run from the connect hook so subscriptions survive reconnects.
func (e *Engine) Subscribe(client mqtt.Client) {
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	ackTopic := e.topics.AckWildcard()
	if token := client.Subscribe(ackTopic, 1, e.onAck); token.Wait() && token.Error() != nil {
		e.log.Error(token.Error(), "failed to subscribe", "topic", ackTopic)
	} else {
		e.log.Info("subscribed", "topic", ackTopic)
	}

	if e.telemetry == nil {
		return
	}
	for _, topic := range e.topics.TelemetryTopics() {
		if token := client.Subscribe(topic, 0, e.onTelemetry); token.Wait() && token.Error() != nil {
			e.log.Error(token.Error(), "failed to subscribe", "topic", topic)
			continue
		}
		e.log.Info("subscribed", "topic", topic)
	}
}

// Stop disconnects from the broker.
func (e *Engine) Stop() {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	e.log.Info("engine stopped")
}

func (e *Engine) onAck(_ mqtt.Client, msg mqtt.Message) {
	e.HandleAck(msg.Topic(), msg.Payload())
}

func (e *Engine) onTelemetry(_ mqtt.Client, msg mqtt.Message) {
	e.HandleTelemetry(msg.Topic(), msg.Payload())
}

// HandleAck queues a copy of the payload; paho reuses message buffers.
func (e *Engine) HandleAck(topic string, payload []byte) {
	raw := make([]byte, len(payload))
	copy(raw, payload)

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.acks.EnqueueAck(ctx, topic, raw); err != nil {
		e.log.Error(err, "failed to enqueue ack", "topic", topic)
		return
	}
	e.log.Debug("ack enqueued", "topic", topic, "bytes", len(raw))
}

// HandleTelemetry parses and stores one telemetry message.
func (e *Engine) HandleTelemetry(topic string, payload []byte) {
	reading, err := ParseTelemetry(topic, payload, e.topics, e.now())
	if err != nil {
		metrics.TelemetryIngested.WithLabelValues("invalid").Inc()
		e.log.Warn("dropping telemetry", "topic", topic, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if _, err := e.telemetry.Append(ctx, reading); err != nil {
		metrics.TelemetryIngested.WithLabelValues("error").Inc()
		e.log.Error(err, "failed to store telemetry", "device_id", reading.DeviceID)
		return
	}
	metrics.TelemetryIngested.WithLabelValues("ok").Inc()
}

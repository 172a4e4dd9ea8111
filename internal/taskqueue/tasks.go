package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task types.
const (
	TypeScheduleTick = "schedule:tick"
	TypeAckReport    = "ack:report"
)

const (
	tickTimeout = 60 * time.Second
	ackTimeout  = 15 * time.Second
)

// TickPayload carries the minute being evaluated, so a retried task
// re-evaluates the same bucket.
type TickPayload struct {
	At time.Time `json:"at"`
}

// AckPayload carries one raw device report.
type AckPayload struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// NewTickTask builds a tick for the minute containing at.
func NewTickTask(at time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(TickPayload{At: at.UTC().Truncate(time.Minute)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeScheduleTick, payload, asynq.MaxRetry(3), asynq.Timeout(tickTimeout)), nil
}

// NewAckTask builds a report task.
func NewAckTask(topic string, raw []byte) (*asynq.Task, error) {
	payload, err := json.Marshal(AckPayload{Topic: topic, Payload: raw})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAckReport, payload, asynq.MaxRetry(5), asynq.Timeout(ackTimeout)), nil
}

// Enqueuer is the subset of asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client enqueues dispatcher tasks.
type Client struct {
	enq Enqueuer
}

func NewClient(enq Enqueuer) *Client {
	return &Client{enq: enq}
}

// EnqueueTick enqueues the tick for the minute of at. A tick already queued
// for that minute is not an error.
func (c *Client) EnqueueTick(ctx context.Context, at time.Time) error {
	task, err := NewTickTask(at)
	if err != nil {
		return err
	}
	id := "tick-" + at.UTC().Truncate(time.Minute).Format("200601021504")
	_, err = c.enq.EnqueueContext(ctx, task, asynq.TaskID(id))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue tick: %w", err)
	}
	return nil
}

// EnqueueAck enqueues one raw report received on topic.
func (c *Client) EnqueueAck(ctx context.Context, topic string, raw []byte) error {
	task, err := NewAckTask(topic, raw)
	if err != nil {
		return err
	}
	if _, err := c.enq.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue ack from %s: %w", topic, err)
	}
	return nil
}

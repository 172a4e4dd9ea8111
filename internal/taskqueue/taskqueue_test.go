package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agrosmart/internal/ack"
	"agrosmart/internal/automation"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func TestNewTickTask_TruncatesToMinute(t *testing.T) {
	task, err := NewTickTask(time.Date(2025, 1, 8, 9, 0, 42, 5, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, TypeScheduleTick, task.Type())

	var p TickPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC), p.At)
}

func TestClient_EnqueueTick(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewClient(enq)
	require.NoError(t, c.EnqueueTick(context.Background(), time.Now()))
	require.Len(t, enq.tasks, 1)

	enq.err = asynq.ErrTaskIDConflict
	assert.NoError(t, c.EnqueueTick(context.Background(), time.Now()), "same minute already queued")

	enq.err = errors.New("redis down")
	assert.Error(t, c.EnqueueTick(context.Background(), time.Now()))
}

func TestClient_EnqueueAck(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewClient(enq)
	require.NoError(t, c.EnqueueAck(context.Background(), "agrosmart/v5/d1/ack", []byte(`{"status":"done"}`)))
	require.Len(t, enq.tasks, 1)

	var p AckPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	assert.Equal(t, "agrosmart/v5/d1/ack", p.Topic)
	assert.JSONEq(t, `{"status":"done"}`, string(p.Payload))
}

type fakeEvaluator struct {
	at  time.Time
	err error
}

func (f *fakeEvaluator) Tick(_ context.Context, now time.Time) (automation.TickResult, error) {
	f.at = now
	return automation.TickResult{Executed: 1}, f.err
}

type fakeNormalizer struct {
	topic string
	err   error
}

func (f *fakeNormalizer) Handle(_ context.Context, topic string, _ []byte) (ack.Outcome, error) {
	f.topic = topic
	return ack.Outcome{}, f.err
}

func TestWorker_HandleTick(t *testing.T) {
	ev := &fakeEvaluator{}
	w := NewWorker(ev, &fakeNormalizer{}, nil)

	at := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	task, err := NewTickTask(at)
	require.NoError(t, err)
	require.NoError(t, w.HandleTick(context.Background(), task))
	assert.True(t, ev.at.Equal(at))

	ev.err = errors.New("store unreachable")
	err = w.HandleTick(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	err = w.HandleTick(context.Background(), asynq.NewTask(TypeScheduleTick, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestWorker_HandleAck(t *testing.T) {
	norm := &fakeNormalizer{}
	w := NewWorker(&fakeEvaluator{}, norm, nil)

	task, err := NewAckTask("agrosmart/v5/d1/ack", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, w.HandleAck(context.Background(), task))
	assert.Equal(t, "agrosmart/v5/d1/ack", norm.topic)

	norm.err = ack.ErrInvalidReport
	assert.ErrorIs(t, w.HandleAck(context.Background(), task), asynq.SkipRetry)

	norm.err = errors.New("db down")
	err = w.HandleAck(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

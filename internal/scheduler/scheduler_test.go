package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	ticks []time.Time
	err   error
}

func (r *recordingEnqueuer) EnqueueTick(_ context.Context, at time.Time) error {
	r.ticks = append(r.ticks, at)
	return r.err
}

func TestScheduler_TickTruncatesToMinute(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := NewScheduler(enq, time.UTC, nil)
	s.now = func() time.Time { return time.Date(2025, 1, 8, 9, 0, 0, 900_000_000, time.UTC) }

	s.tick()
	require.Len(t, enq.ticks, 1)
	assert.Equal(t, time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC), enq.ticks[0])

	enq.err = errors.New("redis down")
	s.tick()
	assert.Len(t, enq.ticks, 2)
}

func TestScheduler_Schedule(t *testing.T) {
	s := NewScheduler(&recordingEnqueuer{}, time.UTC, nil)
	require.NoError(t, s.Schedule(""))
	first := s.entryID
	require.NoError(t, s.Schedule("*/2 * * * *"))
	assert.NotEqual(t, first, s.entryID)
	assert.Len(t, s.cron.Entries(), 1)

	assert.Error(t, s.Schedule("every minute"))
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agrosmart/internal/log"

	"github.com/robfig/cron/v3"
)

// DefaultSpec fires at second zero of every minute.
const DefaultSpec = "* * * * *"

// TickEnqueuer hands the minute to the task queue.
type TickEnqueuer interface {
	EnqueueTick(ctx context.Context, at time.Time) error
}

// Scheduler is the minute trigger. It only enqueues and keeps no
// evaluation state.
type Scheduler struct {
	cron     *cron.Cron
	enqueuer TickEnqueuer
	timeout  time.Duration
	now      func() time.Time
	log      log.Logger

	mu      sync.Mutex
	entryID cron.EntryID
}

// NewScheduler creates a scheduler running in loc.
func NewScheduler(enqueuer TickEnqueuer, loc *time.Location, logger log.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		enqueuer: enqueuer,
		timeout:  5 * time.Second,
		now:      time.Now,
		log:      logger,
	}
}

// Schedule registers the tick job with spec, replacing a previous one.
func (s *Scheduler) Schedule(spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("invalid tick spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.log.Info("tick scheduled", "spec", spec, "entry_id", int(id))
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("cron scheduler started")
}

// Stop stops the scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("cron scheduler stopped")
}

func (s *Scheduler) tick() {
	at := s.now().Truncate(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.enqueuer.EnqueueTick(ctx, at); err != nil {
		s.log.Error(err, "failed to enqueue tick", "at", at)
		return
	}
	s.log.Debug("tick enqueued", "at", at)
}

package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"agrosmart/internal/ack"
	"agrosmart/internal/automation"
	"agrosmart/internal/log"

	"github.com/hibiken/asynq"
)

// TickEvaluator runs one schedule evaluation.
type TickEvaluator interface {
	Tick(ctx context.Context, now time.Time) (automation.TickResult, error)
}

// AckHandler folds one raw report into the command record.
type AckHandler interface {
	Handle(ctx context.Context, topic string, payload []byte) (ack.Outcome, error)
}

// Worker holds the task handlers.
type Worker struct {
	evaluator  TickEvaluator
	normalizer AckHandler
	log        log.Logger
}

func NewWorker(evaluator TickEvaluator, normalizer AckHandler, logger log.Logger) *Worker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Worker{evaluator: evaluator, normalizer: normalizer, log: logger}
}

// Mux routes task types to handlers.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeScheduleTick, w.HandleTick)
	mux.HandleFunc(TypeAckReport, w.HandleAck)
	return mux
}

func (w *Worker) HandleTick(ctx context.Context, t *asynq.Task) error {
	var p TickPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.At.IsZero() {
		return fmt.Errorf("invalid tick payload: %v: %w", err, asynq.SkipRetry)
	}
	res, err := w.evaluator.Tick(ctx, p.At)
	if err != nil {
		w.log.Error(err, "tick failed", "at", p.At)
		return err
	}
	w.log.Debug("tick done", "at", p.At, "executed", res.Executed, "skipped", res.Skipped,
		"duplicates", res.Duplicates, "errors", res.Errors)
	return nil
}

func (w *Worker) HandleAck(ctx context.Context, t *asynq.Task) error {
	var p AckPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid ack payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := w.normalizer.Handle(ctx, p.Topic, p.Payload)
	if errors.Is(err, ack.ErrInvalidReport) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Server runs the worker against Redis.
type Server struct {
	srv    *asynq.Server
	worker *Worker
}

func NewServer(redisOpt asynq.RedisClientOpt, concurrency int, worker *Worker, logger log.Logger) *Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
		Logger:      asynqLogger{logger.WithName("asynq")},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error(err, "task failed", "type", task.Type())
		}),
	})
	return &Server{srv: srv, worker: worker}
}

// Start begins processing in the background.
func (s *Server) Start() error {
	return s.srv.Start(s.worker.Mux())
}

// Shutdown waits for in-flight tasks and stops the server.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

// asynqLogger adapts log.Logger to asynq.Logger.
type asynqLogger struct {
	l log.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(nil, fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(nil, fmt.Sprint(args...))
	log.Sync()
	os.Exit(1)
}

package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agrosmart/internal/command"
	"agrosmart/internal/history"
	"agrosmart/internal/log"
	"agrosmart/internal/metrics"
	"agrosmart/internal/models"
	"agrosmart/internal/store"
	"agrosmart/internal/telemetry"
	"agrosmart/internal/weather"

	"golang.org/x/sync/errgroup"
)

// SoilGate is the telemetry gate as seen by the evaluator.
type SoilGate interface {
	SoilMoisture(ctx context.Context, deviceID string) (telemetry.Soil, error)
	MaxAge() time.Duration
}

// WeatherGate is the forecast gate as seen by the evaluator.
type WeatherGate interface {
	Check(ctx context.Context, lat, lon float64) weather.Decision
}

// CommandIssuer creates and publishes commands.
type CommandIssuer interface {
	Issue(ctx context.Context, req command.Request) (command.Result, error)
}

type Config struct {
	Location               *time.Location
	Concurrency            int
	DefaultDurationMinutes int
	StoreTimeout           time.Duration
}

// TickResult aggregates the outcomes of one evaluation tick.
type TickResult struct {
	LocalTime  time.Time `json:"local_time"`
	Weekday    int       `json:"weekday"`
	Clock      string    `json:"clock"`
	Matched    int       `json:"matched"`
	Executed   int       `json:"executed"`
	Skipped    int       `json:"skipped"`
	Duplicates int       `json:"duplicates"`
	Errors     int       `json:"errors"`
}

type outcome string

const (
	outcomeExecuted  outcome = "executed"
	outcomeSkipped   outcome = "skipped"
	outcomeDuplicate outcome = "duplicate"
	outcomeErrored   outcome = "errored"
)

func (r *TickResult) add(o outcome) {
	switch o {
	case outcomeExecuted:
		r.Executed++
	case outcomeSkipped:
		r.Skipped++
	case outcomeDuplicate:
		r.Duplicates++
	default:
		r.Errors++
	}
}

// Evaluator matches schedules against a tick and drives the gates and issuer.
type Evaluator struct {
	schedules store.ScheduleSource
	devices   store.DeviceSource
	soil      SoilGate
	weather   WeatherGate
	issuer    CommandIssuer
	history   *history.Writer
	cfg       Config
	now       func() time.Time
	log       log.Logger
}

// NewEvaluator wires an evaluator. weatherGate may be nil, which disables
// weather control for every device.
func NewEvaluator(
	schedules store.ScheduleSource,
	devices store.DeviceSource,
	soil SoilGate,
	weatherGate WeatherGate,
	issuer CommandIssuer,
	hw *history.Writer,
	cfg Config,
	logger log.Logger,
) *Evaluator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = 5
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Evaluator{
		schedules: schedules,
		devices:   devices,
		soil:      soil,
		weather:   weatherGate,
		issuer:    issuer,
		history:   hw,
		cfg:       cfg,
		now:       time.Now,
		log:       logger,
	}
}

// Tick evaluates every schedule due at now. Per-schedule failures are counted
// in the result; only a failure to list schedules is returned as an error.
func (e *Evaluator) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	local := now.In(e.cfg.Location)
	res := TickResult{
		LocalTime: local,
		Weekday:   models.ISOWeekday(local),
		Clock:     models.ClockHHMM(local),
	}

	listCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	due, err := e.schedules.DueSchedules(listCtx, res.Weekday, res.Clock)
	cancel()
	if err != nil {
		return res, fmt.Errorf("failed to list due schedules: %w", err)
	}
	res.Matched = len(due)
	if len(due) == 0 {
		e.log.Debug("no schedules due", "weekday", res.Weekday, "clock", res.Clock)
		return res, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)
	for _, s := range due {
		g.Go(func() error {
			o := e.evaluate(ctx, s, local)
			metrics.ScheduleOutcomes.WithLabelValues(string(o)).Inc()
			mu.Lock()
			res.add(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	e.log.Info("tick evaluated",
		"local_time", local.Format(time.RFC3339), "matched", res.Matched,
		"executed", res.Executed, "skipped", res.Skipped, "duplicates", res.Duplicates, "errors", res.Errors)
	return res, nil
}

func (e *Evaluator) evaluate(ctx context.Context, s models.Schedule, local time.Time) (o outcome) {
	logger := log.ForDevice(e.log, s.DeviceID).WithValues(log.KeySchedule, s.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("panic: %v", r), "schedule evaluation panicked")
			o = outcomeErrored
		}
	}()

	device, err := e.device(ctx, s.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("schedule references a missing device")
		} else {
			logger.Error(err, "device lookup failed")
		}
		return outcomeErrored
	}
	settings := device.Settings

	soil, err := e.soil.SoilMoisture(ctx, device.ID)
	if err != nil {
		logger.Info("skipping, telemetry unavailable", "reason", err.Error())
		e.history.Write(ctx, history.Skipped(device.ID, history.SourceTelemetry,
			"Skipped: soil telemetry unavailable or stale",
			map[string]any{
				"schedule_id":           s.ID,
				"reason":                err.Error(),
				"telemetry_max_age_sec": int(e.soil.MaxAge().Seconds()),
			}, e.now()))
		return outcomeSkipped
	}

	target := settings.TargetSoilMoisture
	if target <= 0 {
		target = models.DefaultTargetSoilMoisture
	}
	if soil.Moisture >= target {
		logger.Info("skipping, soil moisture at or above target", "soil_moisture", soil.Moisture, "target", target)
		e.history.Write(ctx, history.Skipped(device.ID, history.SourceSchedule,
			fmt.Sprintf("Skipped: soil moisture %.1f%% at or above target %.1f%%", soil.Moisture, target),
			map[string]any{
				"schedule_id":     s.ID,
				"soil_moisture":   soil.Moisture,
				"target_moisture": target,
			}, e.now()))
		return outcomeSkipped
	}

	if settings.EnableWeatherControl && e.weather != nil {
		if lat, lon, ok := settings.Coordinates(); ok {
			d := e.weather.Check(ctx, lat, lon)
			decision := "proceed"
			if d.Skip {
				decision = "skip"
			}
			metrics.WeatherDecisions.WithLabelValues(decision).Inc()
			if d.Skip {
				logger.Info("skipping, rain expected", "reason", d.Reason)
				e.history.Write(ctx, history.Skipped(device.ID, history.SourceWeather,
					"Skipped: "+d.Reason,
					map[string]any{
						"schedule_id":     s.ID,
						"weather_reason":  d.Reason,
						"max_probability": d.MaxProbability,
						"soil_moisture":   soil.Moisture,
					}, e.now()))
				return outcomeSkipped
			}
			logger.Debug("weather allows irrigation", "reason", d.Reason)
		} else {
			logger.Warn("weather control enabled without coordinates, proceeding")
		}
	}

	minutes := s.DurationMinutes
	if minutes <= 0 {
		minutes = e.cfg.DefaultDurationMinutes
	}

	req := command.Request{
		DeviceID:  device.ID,
		CommandID: command.ScheduleCommandID(s.ID, local),
		Action:    models.ActionOn,
		Duration:  minutes * 60,
		Origin:    models.OriginSchedule,
		Schedule: &models.ScheduleRef{
			ID:        s.ID,
			Label:     s.Label,
			LocalTime: local.Format("2006-01-02T15:04"),
		},
	}
	res, err := e.issuer.Issue(ctx, req)
	if err != nil {
		logger.Error(err, "failed to issue command", "command_id", req.CommandID)
		e.history.Write(ctx, history.Failure(device.ID, history.SourceSchedule, "Failed to issue scheduled command", err, e.now()))
		return outcomeErrored
	}

	switch res.Outcome {
	case command.OutcomeExecuted:
		return outcomeExecuted
	case command.OutcomeDuplicate:
		return outcomeDuplicate
	default:
		return outcomeErrored
	}
}

func (e *Evaluator) device(ctx context.Context, id string) (*models.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	return e.devices.GetDevice(ctx, id)
}

package cli

import (
	"context"
	"fmt"

	"agrosmart/internal/ack"
	"agrosmart/internal/automation"
	"agrosmart/internal/command"
	"agrosmart/internal/config"
	"agrosmart/internal/db"
	"agrosmart/internal/history"
	"agrosmart/internal/log"
	agmqtt "agrosmart/internal/mqtt"
	agredis "agrosmart/internal/redis"
	"agrosmart/internal/store"
	"agrosmart/internal/telemetry"
	"agrosmart/internal/weather"

	"github.com/redis/go-redis/v9"
)

// backends are the external stores every command needs.
type backends struct {
	db        *db.DB
	redis     *redis.Client
	telemetry *agredis.TelemetryStore
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	dbConn, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	redisClient, err := agredis.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = dbConn.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &backends{
		db:        dbConn,
		redis:     redisClient,
		telemetry: agredis.NewTelemetryStore(redisClient, cfg.Redis.TelemetryMaxLen),
	}, nil
}

func (b *backends) Close() {
	if err := b.redis.Close(); err != nil {
		log.Warn("failed to close redis", "error", err)
	}
	if err := b.db.Close(context.Background()); err != nil {
		log.Warn("failed to close database", "error", err)
	}
}

// sinks is where commands and history land. serve uses Postgres; a dry
// run uses memory.
type sinks struct {
	commands store.CommandStore
	history  store.HistoryLog
}

type dispatcher struct {
	issuer     *command.Issuer
	evaluator  *automation.Evaluator
	normalizer *ack.Normalizer
}

func newDispatcher(cfg *config.Config, b *backends, out sinks, pub command.Publisher) *dispatcher {
	topics := agmqtt.NewTopics(cfg.MQTT.TopicPrefix)
	hw := history.NewWriter(out.history, cfg.Database.Timeout, log.WithName("history"))

	issuer := command.NewIssuer(out.commands, hw, pub, topics, command.IssuerConfig{
		MaxDurationSeconds: cfg.Dispatch.MaxDurationSeconds,
		QoS:                cfg.MQTT.QoS,
		StoreTimeout:       cfg.Database.Timeout,
		PublishTimeout:     cfg.MQTT.PublishTimeout,
	}, log.WithName("issuer"))

	soil := telemetry.NewGate(b.telemetry,
		telemetry.WithMaxAge(cfg.Telemetry.MaxAge),
		telemetry.WithReadTimeout(cfg.Telemetry.ReadTimeout),
		telemetry.WithLogger(log.WithName("telemetry")),
	)

	forecaster := weather.NewOpenMeteo(cfg.Weather.BaseURL, cfg.Weather.Timeout, cfg.Weather.WindowHours, cfg.App.TimeZone)
	weatherGate := weather.NewGate(forecaster,
		agredis.NewWeatherCache(b.redis, cfg.Weather.CacheTTL),
		weather.Thresholds{
			Probability: cfg.Weather.ProbabilityThreshold,
			AmountMM:    cfg.Weather.AmountThresholdMM,
		},
		cfg.Weather.Timeout,
		log.WithName("weather"),
	)

	evaluator := automation.NewEvaluator(b.db, b.db, soil, weatherGate, issuer, hw, automation.Config{
		Location:               cfg.Location(),
		Concurrency:            cfg.Dispatch.EvaluatorConcurrency,
		DefaultDurationMinutes: cfg.Dispatch.DefaultDurationMinutes,
		StoreTimeout:           cfg.Database.Timeout,
	}, log.WithName("evaluator"))

	normalizer := ack.NewNormalizer(out.commands, hw, cfg.Database.Timeout, log.WithName("ack"))

	return &dispatcher{issuer: issuer, evaluator: evaluator, normalizer: normalizer}
}

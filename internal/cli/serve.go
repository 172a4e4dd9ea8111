package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agrosmart/auth"
	"agrosmart/internal/discovery"
	"agrosmart/internal/engine"
	"agrosmart/internal/log"
	agmqtt "agrosmart/internal/mqtt"
	"agrosmart/internal/scheduler"
	"agrosmart/internal/taskqueue"
	"agrosmart/internal/web"
	"agrosmart/internal/web/middleware"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

type ServeOptions struct {
	*RootOptions
	Migrate bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher",
		Long: `Run the whole dispatcher: the MQTT engine, the minute trigger, the task
worker and the HTTP API. The process stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply the database schema before starting")

	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	cfg := opts.cfg
	if (cfg.App.RequireAuth || cfg.App.EnforceDeviceOwnership) && cfg.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required when REQUIRE_AUTH or ENFORCE_DEVICE_OWNERSHIP is set")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if opts.Migrate {
		if err := b.db.Migrate(ctx); err != nil {
			return err
		}
		log.Info("database schema applied")
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	queue := taskqueue.NewClient(asynqClient)

	topics := agmqtt.NewTopics(cfg.MQTT.TopicPrefix)
	eng := engine.NewEngine(topics, queue, b.telemetry, cfg.Database.Timeout, log.WithName("engine"))

	mqttClient, err := agmqtt.NewMQTTClient(agmqtt.ClientOptions{
		Broker:    cfg.MQTT.Broker,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		Logger:    log.WithName("mqtt"),
		OnConnect: eng.Subscribe,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	defer eng.Stop()

	d := newDispatcher(cfg, b, sinks{commands: b.db, history: b.db},
		agmqtt.NewPublisher(mqttClient, cfg.MQTT.QoS, cfg.MQTT.PublishTimeout))

	worker := taskqueue.NewWorker(d.evaluator, d.normalizer, log.WithName("taskqueue"))
	srv := taskqueue.NewServer(redisOpt, cfg.Dispatch.WorkerConcurrency, worker, log.WithName("taskqueue"))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start task worker: %w", err)
	}
	defer srv.Shutdown()

	sched := scheduler.NewScheduler(queue, cfg.Location(), log.WithName("scheduler"))
	if err := sched.Schedule(cfg.Dispatch.TickCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if cfg.MDNS.Enabled {
		adv, err := discovery.Start(cfg.MDNS.LocalName, log.WithName("mdns"))
		if err != nil {
			log.Warn("mdns disabled", "error", err)
		} else {
			defer adv.Close()
		}
	}

	webServer := web.NewWebServer(web.Dependencies{
		Auth:      auth.NewAuthModule(b.db, cfg.JWT.Secret, cfg.JWT.TTL),
		Issuer:    d.issuer,
		Commands:  b.db,
		History:   b.db,
		Telemetry: b.telemetry,
		Devices:   b.db,
		Topics:    topics,
		Middleware: middleware.Options{
			RequireAuth:            cfg.App.RequireAuth,
			EnforceDeviceOwnership: cfg.App.EnforceDeviceOwnership,
			StoreTimeout:           cfg.Database.Timeout,
		},
		Logger: log.WithName("web"),
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- webServer.Start(fmt.Sprintf(":%d", cfg.App.Port))
	}()

	log.Info("dispatcher started", "timezone", cfg.App.TimeZone, "topic_prefix", cfg.MQTT.TopicPrefix)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "http shutdown failed")
	}
	return nil
}

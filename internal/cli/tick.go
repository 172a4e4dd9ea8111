package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agrosmart/internal/command"
	"agrosmart/internal/log"
	agmqtt "agrosmart/internal/mqtt"
	"agrosmart/internal/store"

	"github.com/spf13/cobra"
)

type TickOptions struct {
	*RootOptions
	At     string
	DryRun bool
}

func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TickOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Evaluate schedules once and print the counters",
		Long: `Evaluate every schedule due at one minute, synchronously, and print the
tick counters as JSON.

With --dry-run commands and history are kept in memory and nothing is
published; schedules, devices and telemetry are still read from the
configured stores.

Example:
  agrosmart tick
  agrosmart tick --at 2025-01-08T06:00:00-03:00 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseAt(opts.At, time.Now())
			if err != nil {
				return err
			}
			return runTick(cmd, opts, at)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "minute to evaluate, RFC3339 (default now)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "keep commands in memory and do not publish")

	return cmd
}

func parseAt(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: %w", raw, err)
	}
	return at, nil
}

var _ command.TrackedPublisher = (*agmqtt.Publisher)(nil)

// logPublisher stands in for the broker during a dry run.
type logPublisher struct {
	log log.Logger
}

func (p logPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.log.Info("dry run, not published", "topic", topic, "payload", string(payload))
	return nil
}

func runTick(cmd *cobra.Command, opts *TickOptions, at time.Time) error {
	ctx := cmd.Context()
	cfg := opts.cfg

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	out := sinks{commands: b.db, history: b.db}
	var pub command.Publisher
	if opts.DryRun {
		mem := store.NewMemory()
		out = sinks{commands: mem, history: mem}
		pub = logPublisher{log: log.WithName("dry-run")}
	} else {
		client, err := agmqtt.NewMQTTClient(agmqtt.ClientOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID + "-tick",
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Logger:   log.WithName("mqtt"),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		defer client.Disconnect(250)
		pub = agmqtt.NewPublisher(client, cfg.MQTT.QoS, cfg.MQTT.PublishTimeout)
	}

	d := newDispatcher(cfg, b, out, pub)
	res, err := d.evaluator.Tick(ctx, at)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

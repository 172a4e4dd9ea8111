package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ScheduleOutcomes counts per-schedule results of evaluation ticks.
	// outcome: executed, skipped, duplicate, errored
	ScheduleOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrosmart_schedule_outcomes_total",
			Help: "Outcomes of schedules evaluated by the minute tick.",
		},
		[]string{"outcome"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agrosmart_tick_duration_seconds",
			Help:    "Wall time of one schedule evaluation tick.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CommandsIssued counts issue attempts.
	// outcome: executed, duplicate, publish_failed, invalid, error
	CommandsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrosmart_commands_issued_total",
			Help: "Command issue attempts by origin and outcome.",
		},
		[]string{"origin", "outcome"},
	)

	PublishLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agrosmart_publish_latency_seconds",
			Help:    "Latency of MQTT downlink publishes.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AcksProcessed counts normalized reports by canonical status.
	AcksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrosmart_acks_processed_total",
			Help: "Device acknowledgments by canonical status and result.",
		},
		[]string{"status", "result"},
	)

	AcksRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agrosmart_acks_rejected_total",
			Help: "Device acknowledgments rejected as malformed.",
		},
	)

	WeatherDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrosmart_weather_decisions_total",
			Help: "Weather gate decisions.",
		},
		[]string{"decision"},
	)

	TelemetryIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrosmart_telemetry_ingested_total",
			Help: "Telemetry messages received over MQTT.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		ScheduleOutcomes,
		TickDuration,
		CommandsIssued,
		PublishLatency,
		AcksProcessed,
		AcksRejected,
		WeatherDecisions,
		TelemetryIngested,
	)
}

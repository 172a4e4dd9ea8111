package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"agrosmart/internal/log"
	"agrosmart/internal/store"
)

// SoilMoistureKey is the sensor field read from the newest reading.
const SoilMoistureKey = "soil_moisture"

// DefaultMaxAge is how old the newest reading may be before it is ignored.
const DefaultMaxAge = 180 * time.Second

// MaxClockSkew is how far ahead of our clock a reading may be stamped.
const MaxClockSkew = 30 * time.Second

// ErrUnavailable means there is no trustworthy soil reading.
var ErrUnavailable = errors.New("telemetry unavailable")

// Soil is a usable soil moisture reading.
type Soil struct {
	Moisture float64
	At       time.Time
	Age      time.Duration
}

// Gate answers whether current soil data can be trusted.
type Gate struct {
	reader  store.TelemetryReader
	maxAge  time.Duration
	timeout time.Duration
	now     func() time.Time
	log     log.Logger
}

type Option func(*Gate)

func WithMaxAge(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.maxAge = d
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithLogger(l log.Logger) Option {
	return func(g *Gate) { g.log = l }
}

func NewGate(reader store.TelemetryReader, opts ...Option) *Gate {
	g := &Gate{
		reader:  reader,
		maxAge:  DefaultMaxAge,
		timeout: 3 * time.Second,
		now:     time.Now,
		log:     log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MaxAge returns the configured staleness threshold.
func (g *Gate) MaxAge() time.Duration {
	return g.maxAge
}

// SoilMoisture returns the newest soil moisture for deviceID. Any failure,
// including a store error, yields an error wrapping ErrUnavailable.
func (g *Gate) SoilMoisture(ctx context.Context, deviceID string) (Soil, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reading, err := g.reader.LatestReading(ctx, deviceID)
	if err != nil {
		g.log.Warn("telemetry read failed", "device_id", deviceID, "error", err)
		return Soil{}, fmt.Errorf("%w: read failed: %v", ErrUnavailable, err)
	}
	if reading == nil {
		return Soil{}, fmt.Errorf("%w: no readings", ErrUnavailable)
	}
	if reading.Timestamp.IsZero() {
		return Soil{}, fmt.Errorf("%w: reading has no timestamp", ErrUnavailable)
	}

	raw, ok := reading.Sensors[SoilMoistureKey]
	if !ok || raw == nil {
		return Soil{}, fmt.Errorf("%w: %s missing", ErrUnavailable, SoilMoistureKey)
	}
	value, ok := toFloat(raw)
	if !ok {
		return Soil{}, fmt.Errorf("%w: %s is not numeric (%v)", ErrUnavailable, SoilMoistureKey, raw)
	}

	age := g.now().Sub(reading.Timestamp)
	if age > g.maxAge {
		return Soil{}, fmt.Errorf("%w: reading is %s old, max %s", ErrUnavailable, age.Truncate(time.Second), g.maxAge)
	}
	if age < -MaxClockSkew {
		return Soil{}, fmt.Errorf("%w: reading is stamped %s in the future", ErrUnavailable, (-age).Truncate(time.Second))
	}
	if age < 0 {
		age = 0
	}

	return Soil{Moisture: value, At: reading.Timestamp, Age: age}, nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case interface{ Float64() (float64, error) }: // json.Number
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

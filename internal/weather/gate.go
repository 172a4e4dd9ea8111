package weather

import (
	"context"
	"fmt"
	"time"

	"agrosmart/internal/log"
)

// Forecaster returns the precipitation outlook for a location.
type Forecaster interface {
	Forecast(ctx context.Context, lat, lon float64) (*Forecast, error)
}

// Cache stores recent decisions per location. Implementations may be lossy.
type Cache interface {
	GetDecision(ctx context.Context, lat, lon float64) (*Decision, bool)
	SetDecision(ctx context.Context, lat, lon float64, d Decision)
}

// Decision is the outcome of a weather check.
type Decision struct {
	Skip                 bool    `json:"skip"`
	Reason               string  `json:"reason"`
	MaxProbability       float64 `json:"max_probability"`
	TotalPrecipitationMM float64 `json:"total_precipitation_mm"`
	Cached               bool    `json:"-"`
}

// Thresholds at or above which irrigation is skipped. A zero AmountMM
// disables the accumulated amount check.
type Thresholds struct {
	Probability float64
	AmountMM    float64
}

// Gate reduces a forecast to skip/proceed. It fails open.
type Gate struct {
	source     Forecaster
	cache      Cache
	thresholds Thresholds
	timeout    time.Duration
	log        log.Logger
}

func NewGate(source Forecaster, cache Cache, th Thresholds, timeout time.Duration, logger log.Logger) *Gate {
	if th.Probability <= 0 {
		th.Probability = 70
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Gate{source: source, cache: cache, thresholds: th, timeout: timeout, log: logger}
}

// Check returns whether irrigation at (lat, lon) should be skipped.
// Lookup failures never skip.
func (g *Gate) Check(ctx context.Context, lat, lon float64) Decision {
	if g.cache != nil {
		if d, ok := g.cache.GetDecision(ctx, lat, lon); ok {
			d.Cached = true
			return *d
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	f, err := g.source.Forecast(ctx, lat, lon)
	if err != nil {
		g.log.Warn("weather lookup failed, proceeding", "lat", lat, "lon", lon, "error", err)
		return Decision{Reason: fmt.Sprintf("weather unavailable (%v), proceeding", err)}
	}

	d := g.decide(f)
	if g.cache != nil {
		g.cache.SetDecision(ctx, lat, lon, d)
	}
	return d
}

func (g *Gate) decide(f *Forecast) Decision {
	d := Decision{MaxProbability: f.MaxProbability, TotalPrecipitationMM: f.TotalPrecipitation}
	switch {
	case f.MaxProbability >= g.thresholds.Probability:
		d.Skip = true
		d.Reason = fmt.Sprintf("high chance of rain (max=%.0f%%)", f.MaxProbability)
	case g.thresholds.AmountMM > 0 && f.TotalPrecipitation >= g.thresholds.AmountMM:
		d.Skip = true
		d.Reason = fmt.Sprintf("expected rain %.1fmm (threshold %.1fmm)", f.TotalPrecipitation, g.thresholds.AmountMM)
	default:
		d.Reason = fmt.Sprintf("low chance of rain (max=%.0f%%)", f.MaxProbability)
	}
	return d
}

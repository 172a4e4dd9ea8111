package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forecastServer(t *testing.T, status int, body string, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "precipitation_probability,precipitation", r.URL.Query().Get("hourly"))
		assert.NotEmpty(t, r.URL.Query().Get("latitude"))
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const rainy = `{"hourly":{"time":["2025-01-08T06:00","2025-01-08T07:00","2025-01-08T08:00"],
"precipitation_probability":[10,85,null],"precipitation":[0,2.5,null]}}`

const dry = `{"hourly":{"time":["2025-01-08T06:00","2025-01-08T07:00"],
"precipitation_probability":[5,20],"precipitation":[0,0.4]}}`

func TestGate_Check(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		th       Thresholds
		wantSkip bool
	}{
		{"rain above probability", http.StatusOK, rainy, Thresholds{Probability: 70}, true},
		{"dry proceeds", http.StatusOK, dry, Thresholds{Probability: 70}, false},
		{"amount threshold", http.StatusOK, dry, Thresholds{Probability: 70, AmountMM: 0.3}, true},
		{"http error fails open", http.StatusInternalServerError, `oops`, Thresholds{}, false},
		{"bad json fails open", http.StatusOK, `{"hourly":`, Thresholds{}, false},
		{"api error fails open", http.StatusOK, `{"error":true,"reason":"bad lat"}`, Thresholds{}, false},
		{"empty hourly fails open", http.StatusOK, `{"hourly":{}}`, Thresholds{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := forecastServer(t, tt.status, tt.body, 0)
			g := NewGate(NewOpenMeteo(srv.URL, 2*time.Second, 24, "UTC"), nil, tt.th, time.Second, nil)

			d := g.Check(context.Background(), -23.55, -46.63)
			assert.Equal(t, tt.wantSkip, d.Skip, d.Reason)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestGate_TimeoutFailsOpen(t *testing.T) {
	srv := forecastServer(t, http.StatusOK, rainy, 300*time.Millisecond)
	g := NewGate(NewOpenMeteo(srv.URL, 5*time.Second, 24, "UTC"), nil, Thresholds{Probability: 70}, 50*time.Millisecond, nil)

	start := time.Now()
	d := g.Check(context.Background(), 1, 2)
	assert.False(t, d.Skip)
	assert.Contains(t, d.Reason, "proceeding")
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestReduce_WindowLimit(t *testing.T) {
	p := func(v float64) *float64 { return &v }
	var r openMeteoResponse
	r.Hourly.PrecipitationProbability = []*float64{p(10), p(20), p(99)}
	r.Hourly.Precipitation = []*float64{p(1), p(1), p(10)}

	f := reduce(r, 2)
	assert.Equal(t, 20.0, f.MaxProbability)
	assert.Equal(t, 2.0, f.TotalPrecipitation)
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]Decision
}

func (c *mapCache) key(lat, lon float64) string { return fmt.Sprintf("%.2f:%.2f", lat, lon) }

func (c *mapCache) GetDecision(_ context.Context, lat, lon float64) (*Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.m[c.key(lat, lon)]
	return &d, ok
}

func (c *mapCache) SetDecision(_ context.Context, lat, lon float64, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[c.key(lat, lon)] = d
}

type countingForecaster struct {
	calls int
	f     *Forecast
}

func (c *countingForecaster) Forecast(context.Context, float64, float64) (*Forecast, error) {
	c.calls++
	return c.f, nil
}

func TestGate_UsesCache(t *testing.T) {
	src := &countingForecaster{f: &Forecast{MaxProbability: 90}}
	g := NewGate(src, &mapCache{m: map[string]Decision{}}, Thresholds{Probability: 70}, time.Second, nil)

	first := g.Check(context.Background(), 1, 2)
	second := g.Check(context.Background(), 1, 2)

	require.True(t, first.Skip)
	assert.True(t, second.Skip)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, src.calls)
}

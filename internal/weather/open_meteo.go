package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the public Open-Meteo forecast endpoint.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// Forecast is the hourly precipitation outlook for a short window.
type Forecast struct {
	Hours              []time.Time
	Probability        []float64 // percent, -1 when missing
	PrecipitationMM    []float64
	MaxProbability     float64
	TotalPrecipitation float64
}

// OpenMeteo fetches forecasts from the Open-Meteo API.
type OpenMeteo struct {
	baseURL     string
	client      *http.Client
	windowHours int
	timezone    string
}

// NewOpenMeteo builds a client. The http.Client timeout bounds every call.
func NewOpenMeteo(baseURL string, timeout time.Duration, windowHours int, timezone string) *OpenMeteo {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if windowHours <= 0 {
		windowHours = 24
	}
	if timezone == "" {
		timezone = "auto"
	}
	return &OpenMeteo{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		windowHours: windowHours,
		timezone:    timezone,
	}
}

type openMeteoResponse struct {
	Hourly struct {
		Time                     []string   `json:"time"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
		Precipitation            []*float64 `json:"precipitation"`
	} `json:"hourly"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// Forecast implements Forecaster.
func (o *OpenMeteo) Forecast(ctx context.Context, lat, lon float64) (*Forecast, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("hourly", "precipitation_probability,precipitation")
	q.Set("forecast_hours", strconv.Itoa(o.windowHours))
	q.Set("timezone", o.timezone)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build forecast request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read forecast body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast returned HTTP %d", resp.StatusCode)
	}

	var parsed openMeteoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode forecast: %w", err)
	}
	if parsed.Error {
		return nil, fmt.Errorf("forecast error: %s", parsed.Reason)
	}
	if len(parsed.Hourly.PrecipitationProbability) == 0 && len(parsed.Hourly.Precipitation) == 0 {
		return nil, fmt.Errorf("forecast has no hourly precipitation data")
	}

	return reduce(parsed, o.windowHours), nil
}

func reduce(r openMeteoResponse, window int) *Forecast {
	n := max(len(r.Hourly.PrecipitationProbability), len(r.Hourly.Precipitation))
	if n > window {
		n = window
	}

	f := &Forecast{
		Probability:     make([]float64, n),
		PrecipitationMM: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		if i < len(r.Hourly.Time) {
			if t, err := time.Parse("2006-01-02T15:04", r.Hourly.Time[i]); err == nil {
				f.Hours = append(f.Hours, t)
			}
		}

		f.Probability[i] = -1
		if i < len(r.Hourly.PrecipitationProbability) && r.Hourly.PrecipitationProbability[i] != nil {
			p := *r.Hourly.PrecipitationProbability[i]
			f.Probability[i] = p
			if p > f.MaxProbability {
				f.MaxProbability = p
			}
		}
		if i < len(r.Hourly.Precipitation) && r.Hourly.Precipitation[i] != nil {
			mm := *r.Hourly.Precipitation[i]
			f.PrecipitationMM[i] = mm
			f.TotalPrecipitation += mm
		}
	}
	return f
}

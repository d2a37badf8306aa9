// Package weather pulls real-world conditions from OpenWeatherMap and maps
// them onto entity environments.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/talgya/progression/internal/progression"
)

const (
	defaultBaseURL  = "https://api.openweathermap.org/data/2.5/weather"
	defaultLocation = "San Diego,US"
	maxBackoff      = 10 * time.Minute
)

// Client fetches weather data from OpenWeatherMap.
type Client struct {
	apiKey   string
	location string
	baseURL  string
	client   *http.Client
	now      func() time.Time

	mu          sync.Mutex
	cached      *Conditions
	cachedAt    time.Time
	cacheTTL    time.Duration
	lastFailAt  time.Time
	failBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.client = hc } }

// WithCacheTTL sets how long a successful fetch is reused.
func WithCacheTTL(d time.Duration) Option { return func(c *Client) { c.cacheTTL = d } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient creates a weather API client. Returns nil if apiKey is empty.
func NewClient(apiKey, location string, opts ...Option) *Client {
	if apiKey == "" {
		return nil
	}
	if location == "" {
		location = defaultLocation
	}
	c := &Client{
		apiKey:   apiKey,
		location: location,
		baseURL:  defaultBaseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		cacheTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Conditions holds parsed weather data from the API.
type Conditions struct {
	Temp        float64 `json:"temp"`     // Celsius
	Humidity    float64 `json:"humidity"` // Percent
	Description string  `json:"description"`
	WindSpeed   float64 `json:"wind_speed"` // m/s
	IsStorm     bool    `json:"is_storm"`
	IsSnow      bool    `json:"is_snow"`
	IsRain      bool    `json:"is_rain"`
}

// Fetch returns current conditions, serving the cache while fresh. After a
// failure further calls are refused for a backoff that doubles up to ten
// minutes; the last good reading is returned meanwhile if there is one.
func (c *Client) Fetch(ctx context.Context) (*Conditions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.cached != nil && now.Sub(c.cachedAt) < c.cacheTTL {
		return c.cached, nil
	}

	if c.failBackoff > 0 && now.Sub(c.lastFailAt) < c.failBackoff {
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, fmt.Errorf("weather API backoff (%s remaining)", c.failBackoff-now.Sub(c.lastFailAt))
	}

	conditions, err := c.fetchFromAPI(ctx)
	if err != nil {
		c.lastFailAt = now
		switch {
		case c.failBackoff == 0:
			c.failBackoff = time.Minute
		case c.failBackoff < maxBackoff:
			c.failBackoff = min(c.failBackoff*2, maxBackoff)
		}
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = conditions
	c.cachedAt = now
	c.failBackoff = 0
	return conditions, nil
}

// owmResponse is the subset of the OpenWeatherMap payload we read.
type owmResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func (c *Client) fetchFromAPI(ctx context.Context) (*Conditions, error) {
	q := url.Values{}
	q.Set("q", c.location)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather API call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read weather response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API error %d: %s", resp.StatusCode, string(body))
	}

	var owm owmResponse
	if err := json.Unmarshal(body, &owm); err != nil {
		return nil, fmt.Errorf("parse weather: %w", err)
	}

	conditions := &Conditions{
		Temp:      owm.Main.Temp,
		Humidity:  owm.Main.Humidity,
		WindSpeed: owm.Wind.Speed,
	}
	if len(owm.Weather) > 0 {
		conditions.Description = owm.Weather[0].Description
		main := strings.ToLower(owm.Weather[0].Main)
		conditions.IsRain = main == "rain" || main == "drizzle"
		conditions.IsSnow = main == "snow"
		conditions.IsStorm = main == "thunderstorm" || conditions.WindSpeed > 15
	}

	slog.Debug("weather fetched", "temp", conditions.Temp, "desc", conditions.Description)
	return conditions, nil
}

// ApplyToEnvironment blends live conditions into env. Rain, snow and
// humidity raise moisture, wind and storms raise exposure, and the measured
// temperature pulls the entity's temperature halfway toward it. Nil
// conditions leave env unchanged.
func ApplyToEnvironment(c *Conditions, env progression.Environment) progression.Environment {
	if c == nil {
		return env
	}

	moist := env.Moisture
	switch {
	case c.IsStorm:
		moist += 0.3
	case c.IsRain:
		moist += 0.2
	case c.IsSnow:
		moist += 0.1
	}
	if c.Humidity > 0 {
		moist = moist*0.8 + (c.Humidity/100)*0.2
	}

	expo := env.Exposure + c.WindSpeed/30
	if c.IsStorm {
		expo += 0.2
	}

	return env.
		WithMoisture(moist).
		WithExposure(expo).
		WithTemperature((env.Temperature + c.Temp) / 2)
}

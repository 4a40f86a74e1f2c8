package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"weather-ingest/pkg/logging"
	"weather-ingest/pkg/metrics"
)

var (
	// ErrCircuitOpen is returned while the provider circuit breaker is tripped.
	ErrCircuitOpen = errors.New("provider circuit breaker open")
	// ErrUnexpectedStatus is returned for non-2xx provider responses.
	ErrUnexpectedStatus = errors.New("unexpected provider status code")
)

// Config holds OpenWeatherMap client configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Units      string // "metric", "imperial", or "" for Kelvin
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// OpenWeatherClient fetches raw current-weather payloads from an
// OpenWeatherMap-compatible endpoint. It returns the response body untouched;
// interpreting the payload is the normalizer's job.
type OpenWeatherClient struct {
	name    string
	cfg     Config
	client  *resty.Client
	circuit *gobreaker.CircuitBreaker
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewOpenWeatherClient creates a provider client with retries and a circuit
// breaker around the upstream API.
func NewOpenWeatherClient(cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *OpenWeatherClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &OpenWeatherClient{
		name:    "openweathermap",
		cfg:     cfg,
		client:  client,
		circuit: cb,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Name returns the provider identifier used in logs and metrics.
func (c *OpenWeatherClient) Name() string {
	return c.name
}

// FetchCurrent retrieves the raw current-weather JSON for a location query
// string (e.g. "Paris,FR"). The body is returned verbatim.
func (c *OpenWeatherClient) FetchCurrent(ctx context.Context, location string) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("openweather api key is not configured")
	}

	timer := time.Now()
	defer func() {
		c.metrics.ProviderFetchDuration.WithLabelValues(c.name).Observe(time.Since(timer).Seconds())
	}()

	result, err := c.circuit.Execute(func() (interface{}, error) {
		params := map[string]string{
			"appid": c.cfg.APIKey,
			"q":     location,
		}
		if c.cfg.Units != "" {
			params["units"] = c.cfg.Units
		}

		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get(c.cfg.BaseURL)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode())
		}

		return resp.Body(), nil
	})

	if err != nil {
		c.metrics.RecordProviderError(c.name)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn(ctx, "[PROVIDER_CIRCUIT_OPEN] Skipping fetch while circuit is open", logging.Fields{
				"provider": c.name,
				"location": location,
			})
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}

		c.logger.Error(ctx, "[PROVIDER_FETCH_ERROR] Provider fetch failed", logging.Fields{
			"provider": c.name,
			"location": location,
		}, err)
		return nil, err
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}

	return body, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"weather-ingest/internal/models"
	"weather-ingest/internal/normalizer"
	"weather-ingest/internal/repository"
	"weather-ingest/pkg/logging"
	"weather-ingest/pkg/metrics"
)

// RawFetcher obtains raw provider payloads. The collector never interprets
// the bytes itself.
type RawFetcher interface {
	Name() string
	FetchCurrent(ctx context.Context, location string) ([]byte, error)
}

// BackoffConfig controls the retry policy for transient store errors.
// Retrying is a caller concern: the store itself never retries.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// CollectorService runs the fetch, normalize, upsert pipeline for a set of
// configured locations.
type CollectorService struct {
	fetcher RawFetcher
	norm    *normalizer.Normalizer
	repo    repository.ObservationRepository
	backoff BackoffConfig
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// CollectionResult contains per-run collection statistics
type CollectionResult struct {
	Locations int
	Fetched   int
	Inserted  int
	Replaced  int
	Unchanged int
	Failed    int
	Duration  time.Duration
	Errors    []string
}

// NewCollectorService creates a new collector service
func NewCollectorService(
	fetcher RawFetcher,
	norm *normalizer.Normalizer,
	repo repository.ObservationRepository,
	backoff BackoffConfig,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *CollectorService {
	return &CollectorService{
		fetcher: fetcher,
		norm:    norm,
		repo:    repo,
		backoff: backoff,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CollectAll runs one collection pass over all locations. Per-location
// failures are recorded and the pass continues; the error return is reserved
// for an unusable configuration.
func (s *CollectorService) CollectAll(ctx context.Context, locations []string) (*CollectionResult, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("no locations configured")
	}

	startTime := time.Now()
	s.metrics.CollectorRunsTotal.Inc()

	s.logger.Info(ctx, "[COLLECT_START] Starting collection run", logging.Fields{
		"location_count": len(locations),
		"provider":       s.fetcher.Name(),
	})

	result := &CollectionResult{
		Locations: len(locations),
		Errors:    make([]string, 0),
	}

	for _, location := range locations {
		outcome, err := s.collectOne(ctx, location)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", location, err))
			s.logger.Error(ctx, "[COLLECT_LOCATION_ERROR] Collection failed for location", logging.Fields{
				"location": location,
			}, err)
			continue
		}

		result.Fetched++
		switch outcome {
		case models.OutcomeInserted:
			result.Inserted++
		case models.OutcomeReplaced:
			result.Replaced++
		case models.OutcomeNoOp:
			result.Unchanged++
		}
	}

	result.Duration = time.Since(startTime)
	s.metrics.CollectorRunDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[COLLECT_COMPLETE] Collection run completed", logging.Fields{
		"locations":        result.Locations,
		"fetched":          result.Fetched,
		"inserted":         result.Inserted,
		"replaced":         result.Replaced,
		"unchanged":        result.Unchanged,
		"failed":           result.Failed,
		"duration_seconds": result.Duration.Seconds(),
	})

	return result, nil
}

// collectOne fetches, normalizes, and persists a single location's reading.
func (s *CollectorService) collectOne(ctx context.Context, location string) (models.UpsertOutcome, error) {
	payload, err := s.fetcher.FetchCurrent(ctx, location)
	if err != nil {
		return 0, fmt.Errorf("fetch failed: %w", err)
	}

	obs, err := s.norm.Normalize(payload)
	if err != nil {
		var normErr *models.NormalizationError
		if errors.As(err, &normErr) {
			s.metrics.RecordNormalizationError(string(normErr.Reason))
		}
		return 0, fmt.Errorf("normalize failed: %w", err)
	}

	outcome, err := s.upsertWithRetry(ctx, obs)
	if err != nil {
		return 0, fmt.Errorf("upsert failed: %w", err)
	}

	return outcome, nil
}

// upsertWithRetry retries transient store errors with exponential backoff.
// Validation and integrity errors are never retried.
func (s *CollectorService) upsertWithRetry(ctx context.Context, obs *models.WeatherObservation) (models.UpsertOutcome, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		outcome, err := s.repo.Upsert(ctx, obs)
		if err == nil {
			return outcome, nil
		}

		var storeErr *models.StoreError
		if !errors.As(err, &storeErr) || !storeErr.IsTransient() {
			return 0, err
		}

		lastErr = err
		if attempt >= s.backoff.MaxRetries {
			return 0, lastErr
		}

		delay := s.backoff.InitialInterval << attempt
		if s.backoff.MaxInterval > 0 && delay > s.backoff.MaxInterval {
			delay = s.backoff.MaxInterval
		}

		s.logger.Warn(ctx, "[COLLECT_RETRY] Transient store error, retrying", logging.Fields{
			"location_id": obs.LocationID,
			"attempt":     attempt + 1,
			"delay_ms":    delay.Milliseconds(),
			"kind":        string(storeErr.Kind),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}

package services

import (
	"context"
	"time"

	"weather-ingest/internal/models"
	"weather-ingest/internal/repository"
	"weather-ingest/pkg/logging"
	"weather-ingest/pkg/metrics"
)

// QueryService exposes read access to stored observations for the API layer.
type QueryService struct {
	repo    repository.ObservationRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewQueryService creates a new query service
func NewQueryService(repo repository.ObservationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *QueryService {
	return &QueryService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// QueryRange retrieves observations for a location within [from, to], ascending.
func (s *QueryService) QueryRange(ctx context.Context, locationID string, from, to time.Time) ([]*models.WeatherObservation, error) {
	return s.repo.QueryRange(ctx, locationID, from, to)
}

// GetLatest retrieves the most recent observation for a location.
func (s *QueryService) GetLatest(ctx context.Context, locationID string) (*models.WeatherObservation, error) {
	return s.repo.GetLatest(ctx, locationID)
}

// HealthCheck reports storage availability.
func (s *QueryService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

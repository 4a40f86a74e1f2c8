package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"weather-ingest/internal/models"
	"weather-ingest/pkg/database"
	"weather-ingest/pkg/logging"
	"weather-ingest/pkg/metrics"
)

// ObservationRepository provides data access for normalized weather observations.
//
// Upsert is atomic per call: the check-then-write for a key is performed as a
// single INSERT ... ON CONFLICT statement, so concurrent callers on the same
// (location_id, observed_at) key can never both insert. The repository performs
// no internal retries; transient errors are surfaced to the caller classified
// as such.
type ObservationRepository interface {
	Upsert(ctx context.Context, obs *models.WeatherObservation) (models.UpsertOutcome, error)
	QueryRange(ctx context.Context, locationID string, from, to time.Time) ([]*models.WeatherObservation, error)
	GetLatest(ctx context.Context, locationID string) (*models.WeatherObservation, error)
	HealthCheck(ctx context.Context) error
}

// observationRepository implements ObservationRepository
type observationRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewObservationRepository creates a new observation repository
func NewObservationRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ObservationRepository {
	return &observationRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Upsert inserts or overwrites the observation for its (location_id, observed_at)
// key in one atomic statement. The DO UPDATE branch is guarded by IS DISTINCT FROM
// so re-submitting an identical observation elides the write entirely: RETURNING
// then yields no row, which maps to OutcomeNoOp. Otherwise xmax = 0 distinguishes
// a fresh insert from a last-writer-wins overwrite.
func (r *observationRepository) Upsert(ctx context.Context, obs *models.WeatherObservation) (models.UpsertOutcome, error) {
	query := `
		INSERT INTO weather_observations AS w (
			location_id, observed_at,
			temperature_kelvin, humidity_percent, condition_code, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (location_id, observed_at) DO UPDATE SET
			temperature_kelvin = EXCLUDED.temperature_kelvin,
			humidity_percent = EXCLUDED.humidity_percent,
			condition_code = EXCLUDED.condition_code,
			raw_payload = EXCLUDED.raw_payload
		WHERE (w.temperature_kelvin, w.humidity_percent, w.condition_code)
			IS DISTINCT FROM
			(EXCLUDED.temperature_kelvin, EXCLUDED.humidity_percent, EXCLUDED.condition_code)
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.db.GetContext(ctx, "upsert_observation", &inserted, query,
		obs.LocationID,
		obs.ObservedAt.UTC(),
		obs.TemperatureKelvin,
		obs.HumidityPercent,
		obs.ConditionCode,
		[]byte(obs.RawPayload),
	)

	if err == sql.ErrNoRows {
		// Identical row already present; write elided.
		r.metrics.RecordUpsertOutcome(models.OutcomeNoOp.String())
		return models.OutcomeNoOp, nil
	}

	if err != nil {
		return 0, classifyStoreError("upsert", err)
	}

	outcome := models.OutcomeReplaced
	if inserted {
		outcome = models.OutcomeInserted
	}

	r.metrics.RecordUpsertOutcome(outcome.String())
	r.logger.Debug(ctx, "[REPO_UPSERT] Observation upserted", logging.Fields{
		"location_id": obs.LocationID,
		"observed_at": obs.ObservedAt.UTC().Format(time.RFC3339),
		"outcome":     outcome.String(),
	})

	return outcome, nil
}

// QueryRange returns observations for a location with from <= observed_at <= to,
// ascending by observation time. An empty range yields an empty slice, not an error.
func (r *observationRepository) QueryRange(ctx context.Context, locationID string, from, to time.Time) ([]*models.WeatherObservation, error) {
	query := `
		SELECT location_id, observed_at,
		       temperature_kelvin, humidity_percent, condition_code, raw_payload
		FROM weather_observations
		WHERE location_id = $1
		  AND observed_at >= $2
		  AND observed_at <= $3
		ORDER BY observed_at ASC
	`

	observations := make([]*models.WeatherObservation, 0)
	err := r.db.SelectContext(ctx, "query_range", &observations, query,
		locationID, from.UTC(), to.UTC())

	if err != nil {
		return nil, classifyStoreError("query_range", err)
	}

	return observations, nil
}

// GetLatest returns the most recent observation for a location.
func (r *observationRepository) GetLatest(ctx context.Context, locationID string) (*models.WeatherObservation, error) {
	query := `
		SELECT location_id, observed_at,
		       temperature_kelvin, humidity_percent, condition_code, raw_payload
		FROM weather_observations
		WHERE location_id = $1
		ORDER BY observed_at DESC
		LIMIT 1
	`

	var obs models.WeatherObservation
	err := r.db.GetContext(ctx, "get_latest", &obs, query, locationID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "weather_observation",
			ID:       locationID,
		}
	}

	if err != nil {
		return nil, classifyStoreError("get_latest", err)
	}

	return &obs, nil
}

// HealthCheck performs a repository health check
func (r *observationRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}

package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"weather-ingest/internal/models"
	"weather-ingest/pkg/database"
	"weather-ingest/pkg/logging"
	"weather-ingest/pkg/metrics"
)

var testMetrics = metrics.NewCollector("repository_test")

const testSchema = `
	CREATE TABLE IF NOT EXISTS weather_observations (
		location_id        TEXT             NOT NULL,
		observed_at        TIMESTAMPTZ      NOT NULL,
		temperature_kelvin DOUBLE PRECISION NOT NULL CHECK (temperature_kelvin > 0 AND temperature_kelvin < 1000),
		humidity_percent   INTEGER          NOT NULL CHECK (humidity_percent BETWEEN 0 AND 100),
		condition_code     TEXT             NOT NULL CHECK (condition_code <> ''),
		raw_payload        JSONB,
		PRIMARY KEY (location_id, observed_at)
	)
`

// newTestRepository connects to the database named by TEST_DATABASE_URL and
// returns a repository over a freshly truncated observations table. Tests
// using it are skipped when the variable is unset.
func newTestRepository(t *testing.T) (ObservationRepository, *database.PostgresDB) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping database integration test")
	}

	logger := logging.NewStructuredLogger("repository-test", "test", logging.ErrorLevel)

	db, err := database.NewPostgresDBFromDSN(dsn, logger, testMetrics)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "create_test_schema", testSchema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, "truncate_observations", "TRUNCATE weather_observations"); err != nil {
		t.Fatalf("failed to truncate table: %v", err)
	}

	return NewObservationRepository(db, logger, testMetrics), db
}

func countRows(t *testing.T, db *database.PostgresDB, locationID string) int {
	t.Helper()

	var count int
	err := db.GetContext(context.Background(), "count_observations", &count,
		"SELECT COUNT(*) FROM weather_observations WHERE location_id = $1", locationID)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}

func testObservation(observedAt time.Time) models.WeatherObservation {
	return models.WeatherObservation{
		LocationID:        "paris",
		ObservedAt:        observedAt,
		TemperatureKelvin: 288.15,
		HumidityPercent:   60,
		ConditionCode:     "800",
		RawPayload:        []byte(`{"name":"Paris","main":{"temp":15.0,"humidity":60}}`),
	}
}

func TestRepositoryUpsertOutcomeSequence(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()

	observedAt := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	obs := testObservation(observedAt)

	steps := []struct {
		name   string
		mutate func(*models.WeatherObservation)
		want   models.UpsertOutcome
	}{
		{
			name: "first write inserts",
			want: models.OutcomeInserted,
		},
		{
			name: "identical resubmission is a noop",
			want: models.OutcomeNoOp,
		},
		{
			name: "changed values replace the row",
			mutate: func(o *models.WeatherObservation) {
				o.TemperatureKelvin = 290.65
				o.ConditionCode = "801"
			},
			want: models.OutcomeReplaced,
		},
		{
			name: "resubmitting the winner is a noop",
			want: models.OutcomeNoOp,
		},
	}

	for _, step := range steps {
		if step.mutate != nil {
			step.mutate(&obs)
		}

		outcome, err := repo.Upsert(ctx, &obs)
		if err != nil {
			t.Fatalf("%s: Upsert() error = %v", step.name, err)
		}
		if outcome != step.want {
			t.Fatalf("%s: outcome = %v, want %v", step.name, outcome, step.want)
		}
		if count := countRows(t, db, obs.LocationID); count != 1 {
			t.Fatalf("%s: row count = %d, want 1", step.name, count)
		}
	}

	// Reads after the sequence see the last writer's values.
	latest, err := repo.GetLatest(ctx, obs.LocationID)
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if latest.TemperatureKelvin != 290.65 {
		t.Errorf("TemperatureKelvin = %v, want 290.65", latest.TemperatureKelvin)
	}
	if latest.ConditionCode != "801" {
		t.Errorf("ConditionCode = %v, want 801", latest.ConditionCode)
	}
	if !latest.ObservedAt.Equal(observedAt) {
		t.Errorf("ObservedAt = %v, want %v", latest.ObservedAt, observedAt)
	}
}

func TestRepositoryConcurrentUpsertsSameKey(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()

	obs := testObservation(time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC))

	const workers = 8

	var wg sync.WaitGroup
	outcomes := make(chan models.UpsertOutcome, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			o := obs
			outcome, err := repo.Upsert(ctx, &o)
			if err != nil {
				errs <- err
				return
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Upsert() error = %v", err)
	}

	inserted := 0
	for outcome := range outcomes {
		if outcome == models.OutcomeInserted {
			inserted++
		}
	}
	if inserted != 1 {
		t.Errorf("inserted outcomes = %d, want exactly 1", inserted)
	}

	if count := countRows(t, db, obs.LocationID); count != 1 {
		t.Errorf("row count = %d, want 1 after concurrent same-key upserts", count)
	}
}

func TestRepositoryQueryRangeBounds(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	base := time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		obs := testObservation(base.Add(time.Duration(i) * time.Minute))
		if _, err := repo.Upsert(ctx, &obs); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	// Both endpoints are inclusive: [base, base+1m] covers the first two rows.
	got, err := repo.QueryRange(ctx, "paris", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("QueryRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("QueryRange() returned %d observations, want 2", len(got))
	}
	if !got[0].ObservedAt.Equal(base) || !got[1].ObservedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("observations not ascending by time: %v, %v", got[0].ObservedAt, got[1].ObservedAt)
	}

	// A window before all rows yields an empty slice, not an error.
	empty, err := repo.QueryRange(ctx, "paris", base.Add(-2*time.Hour), base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryRange() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("QueryRange() on empty window returned %d observations, want 0", len(empty))
	}
}

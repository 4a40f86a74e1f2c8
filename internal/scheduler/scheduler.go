package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"weather-ingest/internal/services"
	"weather-ingest/pkg/logging"
)

// Scheduler periodically runs the collector for the configured locations.
// Polling cadence lives here, outside the ingestion core: the normalizer and
// store never decide when to run.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	service    *services.CollectorService
	locations  []string
	interval   time.Duration
	runTimeout time.Duration
	logger     *logging.StructuredLogger
}

// New creates a new Scheduler.
func New(
	service *services.CollectorService,
	locations []string,
	interval time.Duration,
	runTimeout time.Duration,
	logger *logging.StructuredLogger,
) *Scheduler {
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		service:    service,
		locations:  locations,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Start schedules the periodic collection job and starts the underlying
// scheduler asynchronously.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		s.logger.Warn(context.Background(), "[SCHED_EMPTY] No locations configured; nothing to schedule", logging.Fields{})
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	_, err := s.scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()

		if _, err := s.service.CollectAll(ctx, s.locations); err != nil {
			s.logger.Error(ctx, "[SCHED_RUN_ERROR] Scheduled collection run failed", logging.Fields{
				"location_count": len(s.locations),
			}, err)
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()

	s.logger.Info(context.Background(), "[SCHED_START] Collection scheduler started", logging.Fields{
		"interval":       interval.String(),
		"location_count": len(s.locations),
	})

	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

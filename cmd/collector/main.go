package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"weather-ingest/internal/config"
	"weather-ingest/internal/normalizer"
	"weather-ingest/internal/provider"
	"weather-ingest/internal/repository"
	"weather-ingest/internal/scheduler"
	"weather-ingest/internal/services"
	"weather-ingest/pkg/database"
	"weather-ingest/pkg/logging"
	"weather-ingest/pkg/metrics"
)

func main() {
	once := flag.Bool("once", false, "Run a single collection pass and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("weather-collector", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[COLLECTOR_START] Starting weather collector", logging.Fields{
		"version":        "1.0.0",
		"locations":      cfg.Collector.Locations,
		"interval":       cfg.Collector.Interval.String(),
		"unit":           cfg.Collector.Unit,
		"once":           *once,
		"provider_units": cfg.Provider.Units,
	})

	metricsCollector := metrics.NewCollector("weather_collector")

	db, err := database.NewPostgresDB(&database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[COLLECTOR_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	norm, err := normalizer.New(normalizer.Config{
		Unit:            normalizer.Unit(cfg.Collector.Unit),
		TimestampFormat: normalizer.TimestampFormat(cfg.Collector.TimestampFormat),
		FieldPaths:      cfg.Collector.FieldPaths,
	})
	if err != nil {
		logger.Fatal(ctx, "[COLLECTOR_ERROR] Invalid normalizer configuration", logging.Fields{}, err)
	}

	fetcher := provider.NewOpenWeatherClient(provider.Config{
		APIKey:     cfg.Provider.APIKey,
		BaseURL:    cfg.Provider.BaseURL,
		Units:      cfg.Provider.Units,
		Timeout:    cfg.Provider.Timeout,
		RetryCount: cfg.Provider.RetryCount,
		RetryWait:  cfg.Provider.RetryWait,
	}, logger, metricsCollector)

	repo := repository.NewObservationRepository(db, logger, metricsCollector)

	collectorService := services.NewCollectorService(fetcher, norm, repo, services.BackoffConfig{
		MaxRetries:      cfg.Collector.RetryMax,
		InitialInterval: cfg.Collector.RetryInitial,
		MaxInterval:     cfg.Collector.RetryMaxWait,
	}, logger, metricsCollector)

	if *once {
		runCtx, cancel := context.WithTimeout(ctx, cfg.Collector.RunTimeout)
		defer cancel()

		result, err := collectorService.CollectAll(runCtx, cfg.Collector.Locations)
		if err != nil {
			logger.Fatal(ctx, "[COLLECTOR_ERROR] Collection pass failed", logging.Fields{}, err)
		}

		printResult(result)
		return
	}

	sched := scheduler.New(collectorService, cfg.Collector.Locations, cfg.Collector.Interval, cfg.Collector.RunTimeout, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal(ctx, "[COLLECTOR_ERROR] Failed to start scheduler", logging.Fields{}, err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[COLLECTOR_SHUTDOWN] Stopping scheduler...", logging.Fields{})
	sched.Stop()
	logger.Info(ctx, "[COLLECTOR_SHUTDOWN_COMPLETE] Collector stopped", logging.Fields{})
}

func printResult(result *services.CollectionResult) {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("COLLECTION COMPLETE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Locations: %d\n", result.Locations)
	fmt.Printf("Fetched:   %d\n", result.Fetched)
	fmt.Printf("Inserted:  %d\n", result.Inserted)
	fmt.Printf("Replaced:  %d\n", result.Replaced)
	fmt.Printf("Unchanged: %d\n", result.Unchanged)
	fmt.Printf("Failed:    %d\n", result.Failed)
	fmt.Printf("Duration:  %v\n", result.Duration)

	for _, errMsg := range result.Errors {
		fmt.Printf("  - %s\n", errMsg)
	}
}

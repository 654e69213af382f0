// main package for the narration-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/grimfeed/narration-service/internal/artifact"
	"github.com/grimfeed/narration-service/internal/cache"
	"github.com/grimfeed/narration-service/internal/config"
	"github.com/grimfeed/narration-service/internal/core"
	"github.com/grimfeed/narration-service/internal/narration"
	"github.com/grimfeed/narration-service/internal/scheduler"
	"github.com/grimfeed/narration-service/internal/synthesis"
	"github.com/grimfeed/narration-service/internal/voice"
	"github.com/grimfeed/narration-service/internal/worker"
)

const (
	bytesPerMB      = 1024 * 1024
	hoursPerDay     = 24
	shutdownTimeout = 10 * time.Second
)

// ErrUnknownCacheBackend indicates a cache backend other than filesystem or nats.
var ErrUnknownCacheBackend = errors.New("unknown cache backend")

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "narration-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, log)
}

func serve(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at '%s': %w", cfg.NATS.URL, err)
	}

	defer natsConnection.Close()

	store, err := buildArtifactStore(cfg, natsConnection)
	if err != nil {
		return err
	}

	cacheIdx, journal, err := buildCacheIndex(cfg, store, log)
	if err != nil {
		return err
	}

	if journal != nil {
		defer func() {
			closeErr := journal.Close()
			if closeErr != nil {
				log.Warn("Failed to close cache journal: %v", closeErr)
			}
		}()
	}

	synthClient := synthesis.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		cfg.Provider.ModelID,
		time.Duration(cfg.Provider.TimeoutSeconds)*time.Second,
		cfg.Provider.RequestsPerMinute,
	)

	sched := scheduler.New(scheduler.Config{
		Workers:        cfg.Scheduler.Workers,
		MaxAttempts:    cfg.Scheduler.MaxAttempts,
		RetryBaseDelay: time.Duration(cfg.Scheduler.RetryBaseDelayMS) * time.Millisecond,
		AttemptTimeout: time.Duration(cfg.Scheduler.AttemptTimeoutSeconds) * time.Second,
	}, cacheIdx, synthClient, log)

	service := narration.NewService(sched, voice.NewRegistry(), cfg.Narration.MaxContentLength, log)

	janitor := narration.NewJanitor(
		cacheIdx,
		sched,
		time.Duration(cfg.Narration.CleanupIntervalHours)*time.Hour,
		time.Duration(cfg.Scheduler.JobRetentionMinutes)*time.Minute,
		time.Duration(cfg.Scheduler.AbandonedTimeoutMinutes)*time.Minute,
		log,
	)
	janitor.Start()

	defer janitor.Stop()

	natsWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS.NarrationSubject, service, log)
	if err != nil {
		return fmt.Errorf("failed to create NATS worker: %w", err)
	}

	log.System("Narration service initialized. Listening for jobs on subject: %s", cfg.NATS.NarrationSubject)

	runErr := natsWorker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := sched.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn("Scheduler shutdown did not finish cleanly: %v", shutdownErr)
	}

	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}

	return nil
}

func buildArtifactStore(cfg *config.Config, natsConnection *nats.Conn) (core.ArtifactStore, error) {
	switch cfg.Cache.Backend {
	case "filesystem", "":
		store, err := artifact.NewFSStore(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem artifact store: %w", err)
		}

		return store, nil
	case "nats":
		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}

		store, err := artifact.NewNatsStore(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS artifact store: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownCacheBackend, cfg.Cache.Backend)
	}
}

func buildCacheIndex(
	cfg *config.Config,
	store core.ArtifactStore,
	log *logger.Logger,
) (*cache.Index, *cache.Journal, error) {
	var (
		journal *cache.Journal
		err     error
	)

	if cfg.Cache.IndexPath != "" {
		journal, err = cache.OpenJournal(cfg.Cache.IndexPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open cache journal: %w", err)
		}
	}

	cacheIdx, err := cache.NewIndex(
		store,
		cfg.Cache.MaxSizeMB*bytesPerMB,
		time.Duration(cfg.Cache.TTLDays)*hoursPerDay*time.Hour,
		journal,
		log,
	)
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}

		return nil, nil, fmt.Errorf("failed to create cache index: %w", err)
	}

	return cacheIdx, journal, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

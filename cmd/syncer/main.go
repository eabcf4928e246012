package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"press_sync/internal/blob"
	"press_sync/internal/config"
	"press_sync/internal/domain"
	"press_sync/internal/media"
	"press_sync/internal/publisher"
	"press_sync/internal/scheduler"
	"press_sync/internal/service"
	"press_sync/internal/source/pressroom"
	"press_sync/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobStore, err := newBlobStore(ctx, cfg.Blob)
	if err != nil {
		logger.Error("failed to initialize blob storage", "error", err)
		os.Exit(1)
	}

	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	lockStore := postgres.NewLockStore(db, logger)
	accountStore := postgres.NewAccountStore(db)
	contentStore := postgres.NewContentStore(db)
	taskStore := postgres.NewTaskStore(db)
	txManager := postgres.NewTransactionManager(db)

	extractor := media.NewExtractor(cfg.Media.RemoteHosts, cfg.Blob.PublicBaseURL)
	downloader := media.NewDownloader(blobStore, media.DownloaderConfig{
		MaxConcurrency: cfg.Media.MaxConcurrency,
		Timeout:        cfg.Media.Timeout,
		MaxBytes:       cfg.Media.MaxBytes,
	}, logger)
	pipeline := media.NewPipeline(extractor, downloader, logger)

	client := pressroom.NewClient(pressroom.Config{
		BaseURL:  cfg.API.BaseURL,
		PageSize: cfg.API.PageSize,
		Timeout:  cfg.API.Timeout,
	}, logger)

	syncService := service.NewSyncService(
		lockStore,
		accountStore,
		contentStore,
		client,
		pipeline,
		pub,
		txManager,
		logger,
		service.SyncConfig{LockTTL: cfg.Lock.TTL},
	)

	queueService := service.NewQueueService(taskStore, syncService, logger, service.QueueConfig{
		MaxTasksPerTick: cfg.Queue.MaxTasksPerTick,
		MaxRetries:      cfg.Queue.MaxRetries,
		InitialBackoff:  cfg.Queue.InitialBackoff,
		MaxBackoff:      cfg.Queue.MaxBackoff,
	})

	if swept, err := lockStore.SweepExpired(ctx); err != nil {
		logger.Warn("startup lock sweep failed", "error", err)
	} else if swept > 0 {
		logger.Info("swept expired locks", "count", swept)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	enqueueJob := func(jobCtx context.Context) error {
		for _, sourceID := range cfg.Sync.Sources {
			_, err := queueService.EnqueueSync(jobCtx, cfg.Queue.Name, domain.SyncTaskPayload{
				SourceID:    sourceID,
				MaxArticles: cfg.Sync.MaxArticles,
			}, 0)
			if err != nil {
				return err
			}
		}
		return nil
	}

	drainJob := func(jobCtx context.Context) error {
		result, err := queueService.ProcessQueue(jobCtx, cfg.Queue.Name)
		if err != nil {
			return err
		}
		if result.Processed > 0 || result.Failed > 0 {
			logger.Info("queue drained",
				"processed", result.Processed,
				"failed", result.Failed,
			)
		}
		return nil
	}

	sweepJob := func(jobCtx context.Context) error {
		_, err := lockStore.SweepExpired(jobCtx)
		return err
	}

	logger.Info("starting press sync daemon",
		"sources", cfg.Sync.Sources,
		"sync_interval", cfg.Sync.Interval,
		"queue_poll_interval", cfg.Queue.PollInterval,
	)

	var wg sync.WaitGroup
	schedulers := []*scheduler.Scheduler{
		scheduler.NewScheduler("enqueue_syncs", enqueueJob, cfg.Sync.Interval, cfg.Sync.Interval/2, logger),
		scheduler.NewScheduler("drain_queue", drainJob, cfg.Queue.PollInterval, cfg.Sync.Interval, logger),
		scheduler.NewScheduler("sweep_locks", sweepJob, cfg.Lock.TTL, cfg.API.Timeout, logger),
	}
	for _, sched := range schedulers {
		wg.Add(1)
		go func(sched *scheduler.Scheduler) {
			defer wg.Done()
			if err := sched.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("scheduler error", "error", err)
			}
		}(sched)
	}
	wg.Wait()
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	if cfg.Backend == "fs" {
		return blob.NewFSStore(cfg.Dir, cfg.PublicBaseURL)
	}
	return blob.NewS3Store(ctx, blob.S3Config{
		Bucket:        cfg.Bucket,
		KeyPrefix:     cfg.KeyPrefix,
		Endpoint:      cfg.Endpoint,
		Region:        cfg.Region,
		PublicBaseURL: cfg.PublicBaseURL,
	})
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

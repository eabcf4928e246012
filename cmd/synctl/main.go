// Command synctl is the operator surface: trigger sync runs, inspect and
// force-release locks, and inspect or drain the task queue. Every command
// prints a JSON summary on stdout and exits non-zero on failure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"press_sync/internal/blob"
	"press_sync/internal/config"
	"press_sync/internal/domain"
	"press_sync/internal/media"
	"press_sync/internal/service"
	"press_sync/internal/source/pressroom"
	"press_sync/internal/storage/postgres"
)

var (
	configPath string

	syncSource      string
	syncForce       bool
	syncBypassLock  bool
	syncMaxArticles int
	syncSince       string
	syncUntil       string

	lockKey string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "synctl",
		Short:         "Operate the press sync system",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(newSyncCmd(), newLockCmd(), newQueueCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync for a source and print the run summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnv()
			if err != nil {
				return err
			}
			defer env.close()

			opts := domain.SyncOptions{
				SourceID:    syncSource,
				Force:       syncForce,
				BypassLock:  syncBypassLock,
				MaxArticles: syncMaxArticles,
			}
			if opts.Since, err = parseDate(syncSince); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if opts.Until, err = parseDateEnd(syncUntil); err != nil {
				return fmt.Errorf("--until: %w", err)
			}

			run, err := env.sync.Sync(cmd.Context(), opts)
			if run != nil {
				printJSON(run)
			}
			if err != nil {
				return err
			}
			if !run.Success {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&syncSource, "source", "", "source account to sync")
	cmd.Flags().BoolVar(&syncForce, "force", false, "re-process items that already exist")
	cmd.Flags().BoolVar(&syncBypassLock, "bypass-lock", false,
		"skip the sync lock entirely; concurrent runs can race and are only protected by idempotent upserts")
	cmd.Flags().IntVar(&syncMaxArticles, "max-articles", 0, "stop after this many items (0 = no cap)")
	cmd.Flags().StringVar(&syncSince, "since", "", "only items published on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&syncUntil, "until", "", "only items published on or before this date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func newLockCmd() *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and manage sync locks",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a lock is currently held",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnv()
			if err != nil {
				return err
			}
			defer env.close()

			locked, err := env.locks.IsLocked(cmd.Context(), lockKey)
			if err != nil {
				return err
			}

			status := map[string]any{"key": lockKey, "locked": locked}
			lock, err := env.locks.Get(cmd.Context(), lockKey)
			if err != nil {
				return err
			}
			if lock != nil {
				// The token stays private: leaking it would let anyone
				// release the holder's lease.
				status["expires_at"] = lock.ExpiresAt
				status["created_at"] = lock.CreatedAt
			}
			printJSON(status)
			return nil
		},
	}
	statusCmd.Flags().StringVar(&lockKey, "key", "", "lock key, e.g. sync:<source>")
	_ = statusCmd.MarkFlagRequired("key")

	releaseCmd := &cobra.Command{
		Use:   "release",
		Short: "Force-release a named lock regardless of its holder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnv()
			if err != nil {
				return err
			}
			defer env.close()

			if err := env.locks.ForceRelease(cmd.Context(), lockKey); err != nil {
				return err
			}
			printJSON(map[string]any{"key": lockKey, "released": true})
			return nil
		},
	}
	releaseCmd.Flags().StringVar(&lockKey, "key", "", "lock key to release")
	_ = releaseCmd.MarkFlagRequired("key")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete all expired locks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnv()
			if err != nil {
				return err
			}
			defer env.close()

			swept, err := env.locks.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(map[string]any{"swept": swept})
			return nil
		},
	}

	lockCmd.AddCommand(statusCmd, releaseCmd, sweepCmd)
	return lockCmd
}

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the task queue",
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Report queue status counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnv()
			if err != nil {
				return err
			}
			defer env.close()

			health, err := env.queue.GetQueueHealth(cmd.Context(), env.cfg.Queue.Name)
			if err != nil {
				return err
			}
			printJSON(health)
			return nil
		},
	}

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Claim and run pending tasks until the queue drains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnv()
			if err != nil {
				return err
			}
			defer env.close()

			result, err := env.queue.ProcessQueue(cmd.Context(), env.cfg.Queue.Name)
			if result != nil {
				printJSON(result)
			}
			if err != nil {
				return err
			}
			if result.Failed > 0 {
				os.Exit(1)
			}
			return nil
		},
	}

	queueCmd.AddCommand(healthCmd, processCmd)
	return queueCmd
}

// env wires the full service graph for one command invocation.
type env struct {
	cfg   *config.Config
	db    *sqlx.DB
	locks *postgres.LockStore
	sync  *service.SyncService
	queue *service.QueueService
}

func newEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	blobStore, err := newBlobStore(context.Background(), cfg.Blob)
	if err != nil {
		db.Close()
		return nil, err
	}

	lockStore := postgres.NewLockStore(db, logger)
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
		postgres.NewAccountStore(db),
		postgres.NewContentStore(db),
		client,
		pipeline,
		nil, // operator runs do not publish events
		postgres.NewTransactionManager(db),
		logger,
		service.SyncConfig{LockTTL: cfg.Lock.TTL},
	)

	queueService := service.NewQueueService(postgres.NewTaskStore(db), syncService, logger, service.QueueConfig{
		MaxTasksPerTick: cfg.Queue.MaxTasksPerTick,
		MaxRetries:      cfg.Queue.MaxRetries,
		InitialBackoff:  cfg.Queue.InitialBackoff,
		MaxBackoff:      cfg.Queue.MaxBackoff,
	})

	return &env{
		cfg:   cfg,
		db:    db,
		locks: lockStore,
		sync:  syncService,
		queue: queueService,
	}, nil
}

func (e *env) close() {
	e.db.Close()
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

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", value)
}

// parseDateEnd parses a date as the last instant of that day, so an
// inclusive upper bound covers items published later the same day.
func parseDateEnd(value string) (time.Time, error) {
	day, err := parseDate(value)
	if err != nil || day.IsZero() {
		return day, err
	}
	return day.Add(24*time.Hour - time.Nanosecond), nil
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}
	fmt.Println(string(out))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"press_sync/internal/domain"
)

const lockKeyPrefix = "sync:"

// SyncConfig holds the orchestrator's fixed policy.
type SyncConfig struct {
	LockTTL time.Duration
}

// SyncService pulls published articles from the origin API, rehosts their
// media and upserts them, holding the source's lease lock for the whole
// run. Items are processed sequentially; only media downloads inside one
// item fan out.
type SyncService struct {
	locks     LockStore
	accounts  AccountStore
	content   ContentStore
	source    Source
	pipeline  MediaPipeline
	publisher Publisher
	txManager TransactionManager
	logger    *slog.Logger
	cfg       SyncConfig
}

func NewSyncService(
	locks LockStore,
	accounts AccountStore,
	content ContentStore,
	source Source,
	pipeline MediaPipeline,
	publisher Publisher,
	txManager TransactionManager,
	logger *slog.Logger,
	cfg SyncConfig,
) *SyncService {
	return &SyncService{
		locks:     locks,
		accounts:  accounts,
		content:   content,
		source:    source,
		pipeline:  pipeline,
		publisher: publisher,
		txManager: txManager,
		logger:    logger.With("component", "sync"),
		cfg:       cfg,
	}
}

// Sync executes one run. The returned SyncRun always carries the totals;
// the error return is reserved for infrastructure faults that make even a
// summary meaningless (it is nil for lock contention and per-item
// failures).
func (s *SyncService) Sync(ctx context.Context, opts domain.SyncOptions) (*domain.SyncRun, error) {
	startTime := time.Now()
	run := &domain.SyncRun{SourceID: opts.SourceID, Success: true}
	logger := s.logger.With("source", opts.SourceID)

	if !opts.BypassLock {
		token, err := s.locks.Acquire(ctx, lockKeyPrefix+opts.SourceID, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			logger.Info("sync already running elsewhere, skipping")
			run.Success = false
			run.SkippedLocked = true
			run.Duration = time.Since(startTime)
			return run, nil
		}
		if err != nil {
			run.Success = false
			run.Errors = append(run.Errors, fmt.Sprintf("acquire lock: %v", err))
			run.Duration = time.Since(startTime)
			return run, fmt.Errorf("acquire lock: %w", err)
		}

		// Guaranteed release on every exit path past this point. Release
		// errors are swallowed: an orphaned row only delays the next run
		// until lease expiry, and the upsert keeps duplicates harmless.
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.locks.Release(releaseCtx, lockKeyPrefix+opts.SourceID, token); err != nil {
				logger.Warn("failed to release sync lock", "error", err)
			}
		}()
	} else {
		logger.Warn("running with lock bypassed, concurrent runs may race")
	}

	logger.Info("starting sync", "force", opts.Force, "bypass_lock", opts.BypassLock)

	if err := s.run(ctx, opts, run); err != nil {
		// Unrecoverable before any item work: account/auth/first listing.
		if run.Processed == 0 {
			run.Success = false
		}
		run.Errors = append(run.Errors, err.Error())
	}

	run.Duration = time.Since(startTime)

	logger.Info("sync completed",
		"success", run.Success,
		"processed", run.Processed,
		"created", run.Created,
		"updated", run.Updated,
		"skipped", run.Skipped,
		"failed", run.Failed,
		"errors", len(run.Errors),
		"duration", run.Duration,
	)

	return run, nil
}

// run does everything between lock acquire and release.
func (s *SyncService) run(ctx context.Context, opts domain.SyncOptions, run *domain.SyncRun) error {
	account, err := s.accounts.Find(ctx, opts.SourceID)
	if err != nil {
		return fmt.Errorf("resolve source account: %w", err)
	}
	if !account.IsActive {
		return fmt.Errorf("resolve source account: %w", domain.ErrAccountInactive)
	}

	accessToken, err := s.source.GetAccessToken(ctx, account.Credentials)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	cursor := ""
	for {
		items, nextCursor, err := s.source.ListPublished(ctx, accessToken, cursor)
		if err != nil {
			return fmt.Errorf("list published: %w", err)
		}

		for i := range items {
			if opts.MaxArticles > 0 && run.Processed >= opts.MaxArticles {
				return nil
			}
			s.processItem(ctx, opts, run, &items[i])
		}

		if nextCursor == "" {
			return nil
		}
		cursor = nextCursor
	}
}

// processItem handles one article. Failures are contained: they count and
// get an error entry but never stop the run.
func (s *SyncService) processItem(ctx context.Context, opts domain.SyncOptions, run *domain.SyncRun, item *domain.SourceItem) {
	if !opts.Since.IsZero() && item.PublishedAt.Before(opts.Since) {
		return
	}
	if !opts.Until.IsZero() && item.PublishedAt.After(opts.Until) {
		return
	}

	run.Processed++

	if item.ExternalID == "" {
		run.Failed++
		run.Errors = append(run.Errors, fmt.Sprintf("item %d: missing external id", run.Processed))
		return
	}

	existing, err := s.content.FindByExternalID(ctx, opts.SourceID, item.ExternalID)
	if err != nil {
		run.Failed++
		run.Errors = append(run.Errors, fmt.Sprintf("item %s: lookup: %v", item.ExternalID, err))
		return
	}

	// Fast path: known item, no force. No media work at all.
	if existing != nil && !opts.Force {
		run.Skipped++
		return
	}

	media := s.pipeline.Process(ctx, item.Body, item.ThumbnailURL)
	for _, msg := range media.Errors {
		run.Errors = append(run.Errors, fmt.Sprintf("item %s: media: %s", item.ExternalID, msg))
	}

	record := &domain.ContentItem{
		SourceID:    opts.SourceID,
		ExternalID:  item.ExternalID,
		Title:       item.Title,
		Body:        media.Body,
		Author:      item.Author,
		Status:      item.Status,
		PublishedAt: item.PublishedAt,
	}
	if media.ThumbnailURL != "" {
		record.ThumbnailURL = &media.ThumbnailURL
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		id, err := s.content.Upsert(txCtx, record)
		if err != nil {
			return err
		}
		record.ID = id
		return nil
	})
	if err != nil {
		run.Failed++
		run.Errors = append(run.Errors, fmt.Sprintf("item %s: persist: %v", item.ExternalID, err))
		return
	}

	isNew := existing == nil
	if isNew {
		run.Created++
	} else {
		run.Updated++
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, record, isNew); err != nil {
			s.logger.Warn("failed to publish content event",
				"source", opts.SourceID,
				"external_id", item.ExternalID,
				"error", err,
			)
			run.Errors = append(run.Errors, fmt.Sprintf("item %s: publish: %v", item.ExternalID, err))
		}
	}
}

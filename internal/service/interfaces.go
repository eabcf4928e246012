package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"press_sync/internal/domain"
)

type LockStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
	IsLocked(ctx context.Context, key string) (bool, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type AccountStore interface {
	Find(ctx context.Context, sourceID string) (*domain.SourceAccount, error)
}

type ContentStore interface {
	FindByExternalID(ctx context.Context, sourceID, externalID string) (*domain.ContentItem, error)
	Upsert(ctx context.Context, item *domain.ContentItem) (int64, error)
}

type Source interface {
	GetAccessToken(ctx context.Context, creds domain.Credentials) (string, error)
	ListPublished(ctx context.Context, accessToken, cursor string) ([]domain.SourceItem, string, error)
}

type MediaPipeline interface {
	Process(ctx context.Context, body, thumbnailURL string) *domain.MediaResult
}

type Publisher interface {
	Publish(ctx context.Context, item *domain.ContentItem, isNew bool) error
	Close() error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type TaskStore interface {
	Enqueue(ctx context.Context, task *domain.Task) (int64, error)
	ClaimNext(ctx context.Context, queue string) (*domain.Task, error)
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, errMsg string, retryAt time.Time, terminal bool) error
	Health(ctx context.Context, queue string) (*domain.QueueHealth, error)
}

// SyncRunner is what the queue worker dispatches sync tasks to.
type SyncRunner interface {
	Sync(ctx context.Context, opts domain.SyncOptions) (*domain.SyncRun, error)
}

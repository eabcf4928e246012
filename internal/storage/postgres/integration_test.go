//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"press_sync/internal/domain"
	"press_sync/testdata/utils"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
	logger    *slog.Logger
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_content_items.up.sql"),
			filepath.Join(migrationsPath, "002_create_sync_locks.up.sql"),
			filepath.Join(migrationsPath, "003_create_source_accounts.up.sql"),
			filepath.Join(migrationsPath, "004_create_sync_tasks.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM sync_tasks")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM sync_locks")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM source_accounts")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM content_items")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) TestLockStore_AcquireAndConflict() {
	store := NewLockStore(s.db, s.logger)

	token, err := store.Acquire(s.ctx, "sync:source-a", time.Minute)
	s.NoError(err)
	s.NotEmpty(token)

	_, err = store.Acquire(s.ctx, "sync:source-a", time.Minute)
	s.ErrorIs(err, domain.ErrLockHeld)

	// An unrelated key is not affected.
	other, err := store.Acquire(s.ctx, "sync:source-b", time.Minute)
	s.NoError(err)
	s.NotEmpty(other)
}

func (s *PostgresIntegrationSuite) TestLockStore_ConcurrentAcquireSingleWinner() {
	store := NewLockStore(s.db, s.logger)

	const contenders = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Acquire(s.ctx, "sync:contested", time.Minute); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, winners)
}

func (s *PostgresIntegrationSuite) TestLockStore_Get() {
	store := NewLockStore(s.db, s.logger)

	lock, err := store.Get(s.ctx, "sync:absent")
	s.NoError(err)
	s.Nil(lock)

	token, err := store.Acquire(s.ctx, "sync:inspected", time.Minute)
	s.Require().NoError(err)

	lock, err = store.Get(s.ctx, "sync:inspected")
	s.NoError(err)
	s.Require().NotNil(lock)
	s.Equal("sync:inspected", lock.Key)
	s.Equal(token, lock.Token)
	s.False(lock.ExpiresAt.IsZero())
	s.False(lock.CreatedAt.IsZero())
	s.True(lock.ExpiresAt.After(lock.CreatedAt))
}

func (s *PostgresIntegrationSuite) TestLockStore_ExpiredLeaseReclaimed() {
	store := NewLockStore(s.db, s.logger)

	// Plant an already-expired lease directly.
	_, err := s.db.ExecContext(s.ctx,
		"INSERT INTO sync_locks (key, token, expires_at) VALUES ($1, $2, NOW() - INTERVAL '1 minute')",
		"sync:stale", "dead-token",
	)
	s.Require().NoError(err)

	token, err := store.Acquire(s.ctx, "sync:stale", time.Minute)
	s.NoError(err)
	s.NotEqual("dead-token", token)

	locked, err := store.IsLocked(s.ctx, "sync:stale")
	s.NoError(err)
	s.True(locked)
}

func (s *PostgresIntegrationSuite) TestLockStore_ReleaseRequiresToken() {
	store := NewLockStore(s.db, s.logger)

	token, err := store.Acquire(s.ctx, "sync:guarded", time.Minute)
	s.Require().NoError(err)

	// A stale holder's token must not remove the live lease.
	s.NoError(store.Release(s.ctx, "sync:guarded", "some-other-token"))
	locked, err := store.IsLocked(s.ctx, "sync:guarded")
	s.NoError(err)
	s.True(locked)

	s.NoError(store.Release(s.ctx, "sync:guarded", token))
	locked, err = store.IsLocked(s.ctx, "sync:guarded")
	s.NoError(err)
	s.False(locked)
}

func (s *PostgresIntegrationSuite) TestLockStore_ReleaseIdempotent() {
	store := NewLockStore(s.db, s.logger)

	token, err := store.Acquire(s.ctx, "sync:once", time.Minute)
	s.Require().NoError(err)

	s.NoError(store.Release(s.ctx, "sync:once", token))
	s.NoError(store.Release(s.ctx, "sync:once", token))
}

func (s *PostgresIntegrationSuite) TestLockStore_ForceRelease() {
	store := NewLockStore(s.db, s.logger)

	_, err := store.Acquire(s.ctx, "sync:stuck", time.Hour)
	s.Require().NoError(err)

	s.NoError(store.ForceRelease(s.ctx, "sync:stuck"))

	locked, err := store.IsLocked(s.ctx, "sync:stuck")
	s.NoError(err)
	s.False(locked)
}

func (s *PostgresIntegrationSuite) TestLockStore_SweepExpired() {
	store := NewLockStore(s.db, s.logger)

	_, err := s.db.ExecContext(s.ctx, `
		INSERT INTO sync_locks (key, token, expires_at) VALUES
		('sync:dead-1', 't1', NOW() - INTERVAL '1 minute'),
		('sync:dead-2', 't2', NOW() - INTERVAL '2 minutes'),
		('sync:live',   't3', NOW() + INTERVAL '10 minutes')`)
	s.Require().NoError(err)

	swept, err := store.SweepExpired(s.ctx)
	s.NoError(err)
	s.Equal(int64(2), swept)

	locked, err := store.IsLocked(s.ctx, "sync:live")
	s.NoError(err)
	s.True(locked)
}

func (s *PostgresIntegrationSuite) TestContentStore_UpsertInsertThenUpdate() {
	store := NewContentStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	item := &domain.ContentItem{
		SourceID:     "source-a",
		ExternalID:   "ext-1",
		Title:        "Original",
		Body:         "<p>v1</p>",
		ThumbnailURL: utils.Ptr("https://media.local/t1.jpg"),
		Author:       utils.Ptr("Writer"),
		Status:       "published",
		PublishedAt:  now,
	}

	id1, err := store.Upsert(s.ctx, item)
	s.NoError(err)
	s.Greater(id1, int64(0))

	item.Title = "Updated"
	item.Body = "<p>v2</p>"
	id2, err := store.Upsert(s.ctx, item)
	s.NoError(err)
	s.Equal(id1, id2)

	found, err := store.FindByExternalID(s.ctx, "source-a", "ext-1")
	s.NoError(err)
	s.Require().NotNil(found)
	s.Equal("Updated", found.Title)
	s.Equal("<p>v2</p>", found.Body)
	s.Require().NotNil(found.ThumbnailURL)
	s.Equal("https://media.local/t1.jpg", *found.ThumbnailURL)
}

func (s *PostgresIntegrationSuite) TestContentStore_FindByExternalID_Missing() {
	store := NewContentStore(s.db)

	found, err := store.FindByExternalID(s.ctx, "source-a", "no-such")
	s.NoError(err)
	s.Nil(found)
}

func (s *PostgresIntegrationSuite) TestContentStore_SameExternalIDDifferentSources() {
	store := NewContentStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	for _, src := range []string{"source-a", "source-b"} {
		_, err := store.Upsert(s.ctx, &domain.ContentItem{
			SourceID:    src,
			ExternalID:  "ext-1",
			Title:       "From " + src,
			Body:        "<p>x</p>",
			Status:      "published",
			PublishedAt: now,
		})
		s.NoError(err)
	}

	a, err := store.FindByExternalID(s.ctx, "source-a", "ext-1")
	s.NoError(err)
	s.Require().NotNil(a)
	s.Equal("From source-a", a.Title)

	b, err := store.FindByExternalID(s.ctx, "source-b", "ext-1")
	s.NoError(err)
	s.Require().NotNil(b)
	s.Equal("From source-b", b.Title)
}

func (s *PostgresIntegrationSuite) TestAccountStore_Find() {
	store := NewAccountStore(s.db)

	_, err := s.db.ExecContext(s.ctx, `
		INSERT INTO source_accounts (source_id, client_id, client_secret, is_active)
		VALUES ('source-a', 'cid', 'secret', TRUE)`)
	s.Require().NoError(err)

	account, err := store.Find(s.ctx, "source-a")
	s.NoError(err)
	s.Equal("source-a", account.SourceID)
	s.Equal("cid", account.Credentials.ClientID)
	s.Equal("secret", account.Credentials.ClientSecret)
	s.True(account.IsActive)

	_, err = store.Find(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrAccountNotFound)
}

func (s *PostgresIntegrationSuite) enqueue(store *TaskStore, queue, sourceID string, priority int) int64 {
	s.T().Helper()

	payload, err := json.Marshal(domain.SyncTaskPayload{SourceID: sourceID})
	s.Require().NoError(err)

	id, err := store.Enqueue(s.ctx, &domain.Task{
		Queue:      queue,
		TaskType:   domain.TaskTypeContentSync,
		Payload:    payload,
		Priority:   priority,
		MaxRetries: 3,
	})
	s.Require().NoError(err)
	return id
}

func (s *PostgresIntegrationSuite) TestTaskStore_ClaimOrderedByPriorityThenID() {
	store := NewTaskStore(s.db)

	low := s.enqueue(store, "sync", "source-low", 1)
	high := s.enqueue(store, "sync", "source-high", 9)
	mid := s.enqueue(store, "sync", "source-mid", 5)

	order := make([]int64, 0, 3)
	for {
		task, err := store.ClaimNext(s.ctx, "sync")
		s.Require().NoError(err)
		if task == nil {
			break
		}
		s.Equal(domain.TaskRunning, task.Status)
		order = append(order, task.ID)
	}

	s.Equal([]int64{high, mid, low}, order)
}

func (s *PostgresIntegrationSuite) TestTaskStore_ClaimSkipsFutureRetry() {
	store := NewTaskStore(s.db)

	id := s.enqueue(store, "sync", "source-a", 0)
	s.Require().NoError(store.Fail(s.ctx, id, "transient", time.Now().Add(time.Hour), false))

	task, err := store.ClaimNext(s.ctx, "sync")
	s.NoError(err)
	s.Nil(task)

	// Pull the retry time into the past and it becomes claimable again.
	_, err = s.db.ExecContext(s.ctx,
		"UPDATE sync_tasks SET next_retry_at = NOW() - INTERVAL '1 second' WHERE id = $1", id)
	s.Require().NoError(err)

	task, err = store.ClaimNext(s.ctx, "sync")
	s.NoError(err)
	s.Require().NotNil(task)
	s.Equal(id, task.ID)
	s.Equal(1, task.RetryCount)
	s.Require().NotNil(task.LastError)
	s.Equal("transient", *task.LastError)
}

func (s *PostgresIntegrationSuite) TestTaskStore_TerminalFailureParksTask() {
	store := NewTaskStore(s.db)

	id := s.enqueue(store, "sync", "source-a", 0)
	s.Require().NoError(store.Fail(s.ctx, id, "gave up", time.Now(), true))

	task, err := store.ClaimNext(s.ctx, "sync")
	s.NoError(err)
	s.Nil(task)

	health, err := store.Health(s.ctx, "sync")
	s.NoError(err)
	s.Equal("degraded", health.Status)
	s.Equal(1, health.Failed)
}

func (s *PostgresIntegrationSuite) TestTaskStore_CompleteAndHealth() {
	store := NewTaskStore(s.db)

	s.enqueue(store, "sync", "source-a", 0)
	s.enqueue(store, "sync", "source-b", 0)

	task, err := store.ClaimNext(s.ctx, "sync")
	s.Require().NoError(err)
	s.Require().NotNil(task)
	s.Require().NoError(store.Complete(s.ctx, task.ID))

	health, err := store.Health(s.ctx, "sync")
	s.NoError(err)
	s.Equal("ok", health.Status)
	s.Equal(1, health.Pending)
	s.Equal(0, health.Running)
	s.Equal(0, health.Failed)
}

func (s *PostgresIntegrationSuite) TestTaskStore_QueuesAreIsolated() {
	store := NewTaskStore(s.db)

	s.enqueue(store, "sync", "source-a", 0)

	task, err := store.ClaimNext(s.ctx, "other")
	s.NoError(err)
	s.Nil(task)
}

func (s *PostgresIntegrationSuite) TestTaskStore_ConcurrentClaimsAreDisjoint() {
	store := NewTaskStore(s.db)

	const n = 8
	for i := 0; i < n; i++ {
		s.enqueue(store, "sync", "source-a", 0)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[int64]bool)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := store.ClaimNext(s.ctx, "sync")
			if err != nil || task == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			s.False(claimed[task.ID], "task %d claimed twice", task.ID)
			claimed[task.ID] = true
		}()
	}
	wg.Wait()
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	store := NewContentStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, err := store.Upsert(ctx, &domain.ContentItem{
			SourceID:    "source-a",
			ExternalID:  "tx-1",
			Title:       "Committed",
			Body:        "<p>x</p>",
			Status:      "published",
			PublishedAt: now,
		})
		return err
	})
	s.NoError(err)

	found, err := store.FindByExternalID(s.ctx, "source-a", "tx-1")
	s.NoError(err)
	s.NotNil(found)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	store := NewContentStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := store.Upsert(ctx, &domain.ContentItem{
			SourceID:    "source-a",
			ExternalID:  "tx-2",
			Title:       "Rolled back",
			Body:        "<p>x</p>",
			Status:      "published",
			PublishedAt: now,
		}); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	found, err := store.FindByExternalID(s.ctx, "source-a", "tx-2")
	s.NoError(err)
	s.Nil(found)
}

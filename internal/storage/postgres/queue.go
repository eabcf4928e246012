package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"press_sync/internal/domain"
)

type TaskStore struct {
	db *sqlx.DB
}

func NewTaskStore(db *sqlx.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Enqueue adds a pending task, runnable immediately.
func (s *TaskStore) Enqueue(ctx context.Context, task *domain.Task) (int64, error) {
	query := `
		INSERT INTO sync_tasks (queue, task_type, payload, priority, status, max_retries, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		task.Queue,
		task.TaskType,
		task.Payload,
		task.Priority,
		domain.TaskPending,
		task.MaxRetries,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ClaimNext atomically takes the next runnable task off the queue and
// marks it running. FOR UPDATE SKIP LOCKED lets concurrent workers claim
// disjoint tasks without blocking each other. Returns (nil, nil) when the
// queue is drained.
func (s *TaskStore) ClaimNext(ctx context.Context, queue string) (*domain.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT id, queue, task_type, payload, priority, status,
		       retry_count, max_retries, next_retry_at, last_error,
		       created_at, updated_at
		FROM sync_tasks
		WHERE queue = $1 AND status = $2 AND next_retry_at <= NOW()
		ORDER BY priority DESC, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var task domain.Task
	err = tx.GetContext(ctx, &task, query, queue, domain.TaskPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sync_tasks SET status = $1, updated_at = NOW() WHERE id = $2",
		domain.TaskRunning, task.ID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task.Status = domain.TaskRunning
	return &task, nil
}

// Complete marks the task done.
func (s *TaskStore) Complete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sync_tasks SET status = $1, updated_at = NOW() WHERE id = $2",
		domain.TaskCompleted, id,
	)
	return err
}

// Fail records an attempt failure. Non-terminal failures go back to
// pending with retryAt as the earliest next run; terminal ones park in the
// failed status for operator attention.
func (s *TaskStore) Fail(ctx context.Context, id int64, errMsg string, retryAt time.Time, terminal bool) error {
	status := domain.TaskPending
	if terminal {
		status = domain.TaskFailed
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_tasks
		 SET status = $1,
		     retry_count = retry_count + 1,
		     last_error = $2,
		     next_retry_at = $3,
		     updated_at = NOW()
		 WHERE id = $4`,
		status, errMsg, retryAt, id,
	)
	return err
}

// Health returns per-status counts for one queue.
func (s *TaskStore) Health(ctx context.Context, queue string) (*domain.QueueHealth, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'running') AS running,
			COUNT(*) FILTER (WHERE status = 'failed')  AS failed
		FROM sync_tasks
		WHERE queue = $1`

	var row struct {
		Pending int `db:"pending"`
		Running int `db:"running"`
		Failed  int `db:"failed"`
	}
	if err := s.db.GetContext(ctx, &row, query, queue); err != nil {
		return nil, err
	}

	health := &domain.QueueHealth{
		Queue:   queue,
		Status:  "ok",
		Pending: row.Pending,
		Running: row.Running,
		Failed:  row.Failed,
	}
	if row.Failed > 0 {
		health.Status = "degraded"
	}
	return health, nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"press_sync/internal/domain"
)

// QueueConfig holds the queue worker's policy.
type QueueConfig struct {
	MaxTasksPerTick int
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// ProcessResult summarizes one drain pass over a queue.
type ProcessResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// QueueService claims tasks off the database queue and dispatches them to
// the orchestrator. Failed tasks are rescheduled with exponential backoff
// until their retry budget runs out, then parked as failed.
type QueueService struct {
	tasks  TaskStore
	syncer SyncRunner
	logger *slog.Logger
	cfg    QueueConfig
}

func NewQueueService(tasks TaskStore, syncer SyncRunner, logger *slog.Logger, cfg QueueConfig) *QueueService {
	return &QueueService{
		tasks:  tasks,
		syncer: syncer,
		logger: logger.With("component", "queue"),
		cfg:    cfg,
	}
}

// EnqueueSync queues one sync run for background execution.
func (q *QueueService) EnqueueSync(ctx context.Context, queue string, payload domain.SyncTaskPayload, priority int) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	id, err := q.tasks.Enqueue(ctx, &domain.Task{
		Queue:      queue,
		TaskType:   domain.TaskTypeContentSync,
		Payload:    data,
		Priority:   priority,
		MaxRetries: q.cfg.MaxRetries,
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue task: %w", err)
	}

	q.logger.Debug("enqueued sync task", "id", id, "source", payload.SourceID)
	return id, nil
}

// ProcessQueue claims and runs tasks until the queue drains or the
// per-tick budget is spent.
func (q *QueueService) ProcessQueue(ctx context.Context, queue string) (*ProcessResult, error) {
	result := &ProcessResult{}

	for i := 0; i < q.cfg.MaxTasksPerTick; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		task, err := q.tasks.ClaimNext(ctx, queue)
		if err != nil {
			return result, fmt.Errorf("claim task: %w", err)
		}
		if task == nil {
			break
		}

		if err := q.runTask(ctx, task); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("task %d: %v", task.ID, err))
			q.failTask(ctx, task, err)
			continue
		}

		result.Processed++
		if err := q.tasks.Complete(ctx, task.ID); err != nil {
			q.logger.Warn("failed to mark task completed", "id", task.ID, "error", err)
		}
	}

	return result, nil
}

// GetQueueHealth reports the queue's current status counts.
func (q *QueueService) GetQueueHealth(ctx context.Context, queue string) (*domain.QueueHealth, error) {
	return q.tasks.Health(ctx, queue)
}

func (q *QueueService) runTask(ctx context.Context, task *domain.Task) error {
	switch task.TaskType {
	case domain.TaskTypeContentSync:
		var payload domain.SyncTaskPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}

		run, err := q.syncer.Sync(ctx, domain.SyncOptions{
			SourceID:    payload.SourceID,
			Force:       payload.Force,
			BypassLock:  payload.BypassLock,
			MaxArticles: payload.MaxArticles,
		})
		if err != nil {
			return err
		}
		// A lock-busy run is not a task failure: another worker is
		// already doing the job.
		if !run.Success && !run.SkippedLocked {
			return fmt.Errorf("sync failed: %d errors", len(run.Errors))
		}
		return nil
	default:
		return fmt.Errorf("unknown task type %q", task.TaskType)
	}
}

func (q *QueueService) failTask(ctx context.Context, task *domain.Task, taskErr error) {
	terminal := task.RetryCount+1 >= task.MaxRetries
	retryAt := time.Now().Add(q.backoff(task.RetryCount + 1))

	if err := q.tasks.Fail(ctx, task.ID, taskErr.Error(), retryAt, terminal); err != nil {
		q.logger.Error("failed to record task failure", "id", task.ID, "error", err)
		return
	}

	if terminal {
		q.logger.Error("task failed permanently",
			"id", task.ID,
			"retries", task.RetryCount+1,
			"error", taskErr,
		)
	} else {
		q.logger.Warn("task failed, rescheduled",
			"id", task.ID,
			"retry_at", retryAt,
			"error", taskErr,
		)
	}
}

func (q *QueueService) backoff(attempt int) time.Duration {
	backoff := q.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > q.cfg.MaxBackoff {
		backoff = q.cfg.MaxBackoff
	}
	return backoff
}

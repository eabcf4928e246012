package domain

import (
	"encoding/json"
	"time"
)

// Task statuses. A task moves pending -> running -> completed, or back to
// pending with a later next_retry_at on failure until retries run out,
// after which it parks in failed.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TaskTypeContentSync is the only task type the queue worker dispatches.
const TaskTypeContentSync = "content_sync"

// Task is one queued unit of background work.
type Task struct {
	ID          int64           `db:"id"`
	Queue       string          `db:"queue"`
	TaskType    string          `db:"task_type"`
	Payload     json.RawMessage `db:"payload"`
	Priority    int             `db:"priority"`
	Status      string          `db:"status"`
	RetryCount  int             `db:"retry_count"`
	MaxRetries  int             `db:"max_retries"`
	NextRetryAt time.Time       `db:"next_retry_at"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// SyncTaskPayload is the payload of a content_sync task.
type SyncTaskPayload struct {
	SourceID    string `json:"source_id"`
	Force       bool   `json:"force"`
	BypassLock  bool   `json:"bypass_lock"`
	MaxArticles int    `json:"max_articles,omitempty"`
}

// QueueHealth is a point-in-time summary of one queue.
type QueueHealth struct {
	Queue   string `json:"queue"`
	Status  string `json:"status"` // ok, degraded
	Pending int    `json:"pending"`
	Running int    `json:"running"`
	Failed  int    `json:"failed"`
}

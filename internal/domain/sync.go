package domain

import (
	"errors"
	"time"
)

// ErrAccountNotFound means the requested source has no configured account.
var ErrAccountNotFound = errors.New("source account not found")

// ErrAccountInactive means the account exists but syncing is disabled.
var ErrAccountInactive = errors.New("source account is inactive")

// SyncOptions parameterize one orchestrator run.
type SyncOptions struct {
	SourceID    string
	Force       bool // re-process items that already exist
	BypassLock  bool // skip mutual exclusion entirely; idempotent upsert is the only safety net
	MaxArticles int
	Since       time.Time
	Until       time.Time
}

// SyncRun aggregates one orchestrator execution. It is returned to the
// caller and serialized by the operator CLI; it is never persisted.
type SyncRun struct {
	SourceID      string        `json:"source_id"`
	Success       bool          `json:"success"`
	SkippedLocked bool          `json:"skipped_locked"`
	Processed     int           `json:"processed"`
	Created       int           `json:"created"`
	Updated       int           `json:"updated"`
	Skipped       int           `json:"skipped"`
	Failed        int           `json:"failed"`
	Errors        []string      `json:"errors,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
}

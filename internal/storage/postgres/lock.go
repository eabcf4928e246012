package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"press_sync/internal/domain"
)

const pqUniqueViolation = "23505"

// LockStore is a lease-based mutex backed by the sync_locks table. The
// primary key on key makes Acquire an optimistic insert: whoever's INSERT
// lands first holds the lease, everyone else gets a uniqueness violation.
// All expiry comparisons use the database clock so independent processes
// never disagree about it.
type LockStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewLockStore(db *sqlx.DB, logger *slog.Logger) *LockStore {
	return &LockStore{db: db, logger: logger.With("component", "lock_store")}
}

// Acquire takes the lease on key for ttl and returns the fencing token.
// An expired row is reclaimed first; the unique constraint arbitrates
// racing reclaimers. Returns domain.ErrLockHeld when the lease is live.
func (s *LockStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	// Reclaim a dead lease if one is sitting on the key. No-op otherwise.
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_locks WHERE key = $1 AND expires_at <= NOW()",
		key,
	)
	if err != nil {
		return "", err
	}

	token := uuid.NewString()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_locks (key, token, expires_at)
		 VALUES ($1, $2, NOW() + $3 * INTERVAL '1 second')`,
		key, token, ttl.Seconds(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return "", domain.ErrLockHeld
		}
		return "", err
	}

	return token, nil
}

// IsLocked reports whether an unexpired lease exists for key.
func (s *LockStore) IsLocked(ctx context.Context, key string) (bool, error) {
	var locked bool
	err := s.db.GetContext(ctx, &locked,
		"SELECT EXISTS (SELECT 1 FROM sync_locks WHERE key = $1 AND expires_at > NOW())",
		key,
	)
	return locked, err
}

// Get returns the current lease row for key, expired or not, or nil when
// no row exists.
func (s *LockStore) Get(ctx context.Context, key string) (*domain.Lock, error) {
	var lock domain.Lock
	err := s.db.GetContext(ctx, &lock,
		"SELECT key, token, expires_at, created_at FROM sync_locks WHERE key = $1",
		key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// Release deletes the lease only when token still matches, so a holder
// whose lease expired and was reclaimed cannot remove the new holder's
// row. A mismatch is a silent no-op.
func (s *LockStore) Release(ctx context.Context, key, token string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_locks WHERE key = $1 AND token = $2",
		key, token,
	)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("release skipped, token mismatch or lock gone", "key", key)
	}
	return nil
}

// ForceRelease removes the lease regardless of the token. Operator escape
// hatch only.
func (s *LockStore) ForceRelease(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sync_locks WHERE key = $1", key)
	return err
}

// SweepExpired deletes every dead lease and returns how many went.
func (s *LockStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sync_locks WHERE expires_at <= NOW()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

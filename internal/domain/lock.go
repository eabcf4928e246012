package domain

import (
	"errors"
	"time"
)

// ErrLockHeld is returned by Acquire when an unexpired lock row exists for
// the key. It signals routine contention, not a fault.
var ErrLockHeld = errors.New("lock held by another process")

// Lock is a lease on a named resource. The token fences release: only the
// holder that acquired the current lease can delete the row before expiry.
type Lock struct {
	Key       string    `db:"key"`
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

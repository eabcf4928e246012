package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"press_sync/internal/domain"
)

type AccountStore struct {
	db *sqlx.DB
}

func NewAccountStore(db *sqlx.DB) *AccountStore {
	return &AccountStore{db: db}
}

// Find returns the configured account for sourceID.
// domain.ErrAccountNotFound when no row exists.
func (s *AccountStore) Find(ctx context.Context, sourceID string) (*domain.SourceAccount, error) {
	query := `
		SELECT source_id, client_id, client_secret, is_active
		FROM source_accounts
		WHERE source_id = $1`

	var row accountRow
	err := s.db.GetContext(ctx, &row, query, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	return &domain.SourceAccount{
		SourceID: row.SourceID,
		Credentials: domain.Credentials{
			ClientID:     row.ClientID,
			ClientSecret: row.ClientSecret,
		},
		IsActive: row.IsActive,
	}, nil
}

type accountRow struct {
	SourceID     string `db:"source_id"`
	ClientID     string `db:"client_id"`
	ClientSecret string `db:"client_secret"`
	IsActive     bool   `db:"is_active"`
}

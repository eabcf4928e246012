package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"press_sync/internal/domain"
)

type ContentStore struct {
	db *sqlx.DB
}

func NewContentStore(db *sqlx.DB) *ContentStore {
	return &ContentStore{db: db}
}

// FindByExternalID returns the stored item for (sourceID, externalID), or
// nil when the item has never been synced.
func (s *ContentStore) FindByExternalID(ctx context.Context, sourceID, externalID string) (*domain.ContentItem, error) {
	query := `
		SELECT id, source_id, external_id, title, body, thumbnail_url,
		       author, status, published_at, created_at, updated_at
		FROM content_items
		WHERE source_id = $1 AND external_id = $2`

	var row contentRow
	err := s.db.GetContext(ctx, &row, query, sourceID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// Upsert inserts the item or overwrites the mutable fields of an existing
// row, keyed by (source_id, external_id). Re-running a sync therefore
// converges instead of duplicating.
func (s *ContentStore) Upsert(ctx context.Context, item *domain.ContentItem) (int64, error) {
	query := `
		INSERT INTO content_items (
			source_id, external_id, title, body, thumbnail_url,
			author, status, published_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			thumbnail_url = EXCLUDED.thumbnail_url,
			author = EXCLUDED.author,
			status = EXCLUDED.status,
			published_at = EXCLUDED.published_at,
			updated_at = NOW()
		RETURNING id`

	exec := GetExecutor(ctx, s.db)

	var id int64
	err := exec.QueryRowxContext(ctx, query,
		item.SourceID,
		item.ExternalID,
		item.Title,
		item.Body,
		item.ThumbnailURL,
		item.Author,
		item.Status,
		item.PublishedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

type contentRow struct {
	ID           int64          `db:"id"`
	SourceID     string         `db:"source_id"`
	ExternalID   string         `db:"external_id"`
	Title        string         `db:"title"`
	Body         string         `db:"body"`
	ThumbnailURL sql.NullString `db:"thumbnail_url"`
	Author       sql.NullString `db:"author"`
	Status       string         `db:"status"`
	PublishedAt  sql.NullTime   `db:"published_at"`
	CreatedAt    sql.NullTime   `db:"created_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
}

func (r contentRow) toDomain() *domain.ContentItem {
	item := &domain.ContentItem{
		ID:          r.ID,
		SourceID:    r.SourceID,
		ExternalID:  r.ExternalID,
		Title:       r.Title,
		Body:        r.Body,
		Status:      r.Status,
		PublishedAt: r.PublishedAt.Time,
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
	if r.ThumbnailURL.Valid {
		item.ThumbnailURL = &r.ThumbnailURL.String
	}
	if r.Author.Valid {
		item.Author = &r.Author.String
	}
	return item
}

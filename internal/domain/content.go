package domain

import "time"

// ContentItem is the durable record of a synced article. Media URLs in
// Body and ThumbnailURL point at rehosted copies once the item has been
// through the media pipeline.
type ContentItem struct {
	ID           int64      `json:"id"`
	SourceID     string     `json:"source_id"`
	ExternalID   string     `json:"external_id"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	ThumbnailURL *string    `json:"thumbnail_url,omitempty"`
	Author       *string    `json:"author,omitempty"`
	Status       string     `json:"status"`
	PublishedAt  time.Time  `json:"published_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SourceItem is one article as returned by the origin API, before any
// media rewriting. ExternalID is the idempotency key within a source.
type SourceItem struct {
	ExternalID   string
	Title        string
	Body         string
	ThumbnailURL string
	Author       *string
	Status       string
	PublishedAt  time.Time
}

// Credentials authenticate a source account against the origin API.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// SourceAccount is one configured origin account.
type SourceAccount struct {
	SourceID    string      `db:"source_id"`
	Credentials Credentials `db:"-"`
	IsActive    bool        `db:"is_active"`
}

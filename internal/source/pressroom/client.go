// Package pressroom talks to the origin CMS content API. The client does
// not retry: a failed call surfaces immediately and the task queue's
// backoff decides when the whole run happens again.
package pressroom

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"press_sync/internal/domain"
)

// Config holds pressroom client configuration.
type Config struct {
	BaseURL  string
	PageSize int
	Timeout  time.Duration
}

// Client implements the origin content API contract: token issuance plus
// cursor-paged listing of published articles.
type Client struct {
	http     *resty.Client
	baseURL  string
	pageSize int
	logger   *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	http := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "PressSync/1.0")

	return &Client{
		http:     http,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: cfg.PageSize,
		logger:   logger.With("component", "pressroom"),
	}
}

// GetAccessToken exchanges account credentials for a bearer token.
func (c *Client) GetAccessToken(ctx context.Context, creds domain.Credentials) (string, error) {
	var tok tokenResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     creds.ClientID,
			"client_secret": creds.ClientSecret,
		}).
		SetResult(&tok).
		Post(c.baseURL + "/oauth/token")
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}

	return tok.AccessToken, nil
}

// ListPublished fetches one page of published articles. An empty cursor
// requests the first page; the returned cursor is empty on the last page.
func (c *Client) ListPublished(ctx context.Context, accessToken, cursor string) ([]domain.SourceItem, string, error) {
	var page listResponse

	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParam("pageSize", fmt.Sprintf("%d", c.pageSize)).
		SetResult(&page)
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	resp, err := req.Get(c.baseURL + "/content/published")
	if err != nil {
		return nil, "", fmt.Errorf("list published: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, "", fmt.Errorf("listing returned status %d", resp.StatusCode())
	}

	items := c.transform(page.Items)

	next := ""
	if page.NextCursor != nil {
		next = *page.NextCursor
	}

	c.logger.Debug("fetched page", "items", len(items), "next_cursor", next != "")
	return items, next, nil
}

func (c *Client) transform(payloads []contentPayload) []domain.SourceItem {
	items := make([]domain.SourceItem, 0, len(payloads))

	for _, p := range payloads {
		publishedAt, err := time.Parse(time.RFC3339, p.PublishedAt)
		if err != nil {
			c.logger.Warn("failed to parse publish date",
				"external_id", p.ID,
				"date", p.PublishedAt,
			)
			publishedAt = time.Time{}
		}

		items = append(items, domain.SourceItem{
			ExternalID:   p.ID,
			Title:        p.Title,
			Body:         p.Body,
			ThumbnailURL: p.ThumbnailURL,
			Author:       p.Author,
			Status:       p.Status,
			PublishedAt:  publishedAt,
		})
	}

	return items
}

package media

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"press_sync/internal/blob"
)

// DownloadResult is the per-URL outcome of one fan-out. Exactly one of
// ResolvedURL or Err is set.
type DownloadResult struct {
	OriginalURL string
	ResolvedURL string
	MimeType    string
	ByteSize    int64
	Err         error
}

// DownloaderConfig bounds the fan-out. MaxConcurrency caps simultaneous
// outbound connections; Timeout applies per URL; MaxBytes rejects
// oversized media before it is stored.
type DownloaderConfig struct {
	MaxConcurrency int
	Timeout        time.Duration
	MaxBytes       int64
}

// Downloader fetches a set of distinct URLs with a fixed worker pool and
// hands each successful body to the blob store. Failures are per-URL; one
// bad host never aborts its siblings. No retries here: the orchestrator
// and the task queue own retry policy.
type Downloader struct {
	http   *resty.Client
	store  blob.Store
	cfg    DownloaderConfig
	logger *slog.Logger
}

func NewDownloader(store blob.Store, cfg DownloaderConfig, logger *slog.Logger) *Downloader {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}

	return &Downloader{
		http:   resty.New().SetHeader("User-Agent", "PressSync/1.0"),
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "downloader"),
	}
}

// DownloadAll fetches every URL and returns one result per URL, keyed by
// the original URL.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string) map[string]DownloadResult {
	results := make(map[string]DownloadResult, len(urls))
	if len(urls) == 0 {
		return results
	}

	jobs := make(chan string)
	out := make(chan DownloadResult)

	workers := d.cfg.MaxConcurrency
	if workers > len(urls) {
		workers = len(urls)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				out <- d.fetchOne(ctx, u)
			}
		}()
	}

	go func() {
		for _, u := range urls {
			jobs <- u
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()

	for res := range out {
		results[res.OriginalURL] = res
	}
	return results
}

func (d *Downloader) fetchOne(ctx context.Context, rawURL string) DownloadResult {
	res := DownloadResult{OriginalURL: rawURL}

	reqCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	resp, err := d.http.R().SetContext(reqCtx).Get(rawURL)
	if err != nil {
		res.Err = fmt.Errorf("download failed: %w", err)
		return res
	}
	if resp.StatusCode() != 200 {
		res.Err = fmt.Errorf("download failed: status %d", resp.StatusCode())
		return res
	}

	body := resp.Body()
	if len(body) == 0 {
		res.Err = fmt.Errorf("download failed: empty body")
		return res
	}
	if d.cfg.MaxBytes > 0 && int64(len(body)) > d.cfg.MaxBytes {
		res.Err = fmt.Errorf("download failed: %d bytes exceeds limit", len(body))
		return res
	}

	mimeType, _, _ := strings.Cut(resp.Header().Get("Content-Type"), ";")
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = http.DetectContentType(body)
	}

	newURL, err := d.store.Save(ctx, body, mimeType)
	if err != nil {
		res.Err = fmt.Errorf("store media: %w", err)
		return res
	}

	res.ResolvedURL = newURL
	res.MimeType = mimeType
	res.ByteSize = int64(len(body))

	d.logger.Debug("rehosted media",
		"url", rawURL,
		"mime_type", mimeType,
		"bytes", res.ByteSize,
	)
	return res
}

package media

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"press_sync/internal/domain"
)

// Pipeline composes extraction, download and rewrite for one document.
// Partial failure is success here: failed references keep their original
// URLs in the body and are reported in the result's Errors.
type Pipeline struct {
	extractor  *Extractor
	downloader *Downloader
	logger     *slog.Logger
}

func NewPipeline(extractor *Extractor, downloader *Downloader, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		downloader: downloader,
		logger:     logger.With("component", "media_pipeline"),
	}
}

// Process rehosts every qualifying reference in body and thumbnailURL.
// Rewriting is exact string substitution over the raw document: every
// textual occurrence of a resolved original URL is replaced, and nothing
// else is touched.
func (p *Pipeline) Process(ctx context.Context, body, thumbnailURL string) *domain.MediaResult {
	result := &domain.MediaResult{
		Body:         body,
		ThumbnailURL: thumbnailURL,
	}

	refs := p.extractor.Extract(body, thumbnailURL)
	if len(refs) == 0 {
		return result
	}

	urls := make([]string, len(refs))
	for i, ref := range refs {
		urls[i] = ref.OriginalURL
	}

	downloads := p.downloader.DownloadAll(ctx, urls)

	for _, ref := range refs {
		dl := downloads[ref.OriginalURL]
		ref.ResolvedURL = dl.ResolvedURL
		ref.MimeType = dl.MimeType
		ref.ByteSize = dl.ByteSize
		ref.Err = dl.Err

		if !ref.Resolved() {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: %v", ref.OriginalURL, ref.Err))
			p.logger.Warn("media rehost failed", "url", ref.OriginalURL, "error", ref.Err)
			continue
		}

		result.Resolved = append(result.Resolved, ref)
	}

	// Longest original URL first: when one URL is a strict prefix of
	// another, replacing the shorter one first would mangle the longer
	// one's occurrences.
	sort.SliceStable(result.Resolved, func(i, j int) bool {
		return len(result.Resolved[i].OriginalURL) > len(result.Resolved[j].OriginalURL)
	})

	for _, ref := range result.Resolved {
		result.Body = strings.ReplaceAll(result.Body, ref.OriginalURL, ref.ResolvedURL)
		if ref.Role == domain.RoleThumbnail && ref.OriginalURL == thumbnailURL {
			result.ThumbnailURL = ref.ResolvedURL
		}
	}

	return result
}

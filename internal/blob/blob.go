// Package blob stores rehosted media bytes and hands back the public URL
// they will be served from. Keys are content-addressed, so saving the same
// bytes twice is harmless.
package blob

import "context"

// Store is the save contract the media downloader depends on.
type Store interface {
	Save(ctx context.Context, data []byte, mimeType string) (string, error)
}

// extByMime maps the media types we rehost to a key extension. Anything
// unknown falls back to .bin.
var extByMime = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/avif":    ".avif",
	"image/svg+xml": ".svg",
	"video/mp4":     ".mp4",
	"video/webm":    ".webm",
}

func extensionFor(mimeType string) string {
	if ext, ok := extByMime[mimeType]; ok {
		return ext
	}
	return ".bin"
}

// Package media discovers remote-hosted resources embedded in article
// HTML, downloads them with bounded parallelism, and rewrites the
// document to point at the rehosted copies.
package media

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"press_sync/internal/domain"
)

// srcAttrs are the attributes scanned on media elements, covering the
// lazy-load variants the big CDN embed widgets emit.
var srcAttrs = []string{"src", "data-src", "data-lazy-src", "data-original", "poster"}

// backgroundURL matches url(...) inside an inline style declaration.
var backgroundURL = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// Extractor scans documents for media references hosted on the configured
// remote hosts. URLs already pointing at localHost are skipped, which is
// what makes re-processing an already-rewritten document a no-op.
type Extractor struct {
	remoteHosts []string
	localHost   string
}

func NewExtractor(remoteHosts []string, localHost string) *Extractor {
	return &Extractor{
		remoteHosts: remoteHosts,
		localHost:   strings.ToLower(hostOf(localHost)),
	}
}

// Extract returns the deduplicated remote references found in the body
// and the thumbnail URL. A thumbnail that also appears inline yields a
// single reference with the thumbnail role.
func (e *Extractor) Extract(body, thumbnailURL string) []domain.MediaReference {
	seen := make(map[string]int)
	var refs []domain.MediaReference

	add := func(rawURL string, role domain.MediaRole) {
		u := strings.TrimSpace(rawURL)
		if u == "" || !e.isRemote(u) {
			return
		}
		if i, ok := seen[u]; ok {
			if role == domain.RoleThumbnail {
				refs[i].Role = domain.RoleThumbnail
			}
			return
		}
		seen[u] = len(refs)
		refs = append(refs, domain.MediaReference{OriginalURL: u, Role: role})
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(body))); err == nil {
		doc.Find("img, source, video, iframe").Each(func(_ int, sel *goquery.Selection) {
			for _, attr := range srcAttrs {
				if val, ok := sel.Attr(attr); ok {
					add(val, domain.RoleInline)
				}
			}
		})

		doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
			style, _ := sel.Attr("style")
			for _, m := range backgroundURL.FindAllStringSubmatch(style, -1) {
				add(m[1], domain.RoleInline)
			}
		})
	}

	add(thumbnailURL, domain.RoleThumbnail)

	return refs
}

// isRemote is the host filter: the URL must be absolute, off our own
// host, and on one of the configured remote host patterns.
func (e *Extractor) isRemote(rawURL string) bool {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return false
	}

	host := strings.ToLower(hostOf(rawURL))
	if host == "" || (e.localHost != "" && hostMatches(host, e.localHost)) {
		return false
	}

	for _, pattern := range e.remoteHosts {
		if hostMatches(host, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// hostMatches treats the pattern as an exact host or a parent-domain
// suffix ("cdn.example.com" matches "img.cdn.example.com").
func hostMatches(host, pattern string) bool {
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore writes media to a local directory. Meant for development runs
// where the directory is served by a static file server.
type FSStore struct {
	dir           string
	publicBaseURL string
}

func NewFSStore(dir, publicBaseURL string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSStore{
		dir:           dir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *FSStore) Save(_ context.Context, data []byte, mimeType string) (string, error) {
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:]) + extensionFor(mimeType)

	dest := filepath.Join(s.dir, name)
	if _, err := os.Stat(dest); err == nil {
		return s.publicBaseURL + "/" + name, nil
	}

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", name, err)
	}

	return s.publicBaseURL + "/" + name, nil
}

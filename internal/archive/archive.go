// Package archive keeps the raw HTML of every fetched page, addressed by the
// SHA-256 of its body.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/hash/sha256"
	"github.com/JakeFAU/site-acquirer/internal/store"
)

const contentType = "text/html; charset=utf-8"

// Archiver writes pages to a BlobStore under <prefix>/<site>/<sha256>.html.
type Archiver struct {
	blobs  store.BlobStore
	prefix string
	logger *zap.Logger
}

// New builds an Archiver. A nil blob store disables archiving.
func New(blobs store.BlobStore, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{blobs: blobs, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// ObjectPath returns where a page body for siteName is archived.
func (a *Archiver) ObjectPath(siteName string, body []byte) string {
	return path.Join(a.prefix, sanitize(siteName), sha256.Sum(body)+".html")
}

// RecordPage stores body. Empty bodies are skipped.
func (a *Archiver) RecordPage(ctx context.Context, siteName, url string, body []byte) error {
	if a == nil || a.blobs == nil || len(body) == 0 {
		return nil
	}
	objectPath := a.ObjectPath(siteName, body)
	uri, err := a.blobs.PutObject(ctx, objectPath, contentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("archive %s: %w", url, err)
	}
	a.logger.Debug("page archived", zap.String("site", siteName), zap.String("url", url), zap.String("uri", uri))
	return nil
}

func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

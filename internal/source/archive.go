package source

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/records-resolver/internal/records"
)

// Archiver stores raw source payloads under content-addressed paths.
type Archiver struct {
	blobs  records.BlobStore
	hasher records.Hasher
	prefix string
}

// NewArchiver builds an Archiver. A nil blob store disables archiving.
func NewArchiver(blobs records.BlobStore, hasher records.Hasher, prefix string) *Archiver {
	return &Archiver{blobs: blobs, hasher: hasher, prefix: strings.Trim(prefix, "/")}
}

// Archive writes data and returns its URI. A nil Archiver is a no-op.
func (a *Archiver) Archive(ctx context.Context, jurisdiction, source, contentType string, data []byte) (string, error) {
	if a == nil || a.blobs == nil || a.hasher == nil || len(data) == 0 {
		return "", nil
	}
	digest, err := a.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	ext := "json"
	if strings.Contains(contentType, "html") {
		ext = "html"
	}
	p := path.Join(a.prefix, jurisdiction, source, digest+"."+ext)
	uri, err := a.blobs.PutObject(ctx, p, contentType, data)
	if err != nil {
		return "", fmt.Errorf("put payload: %w", err)
	}
	return uri, nil
}

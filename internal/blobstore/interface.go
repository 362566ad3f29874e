// Package blobstore moves opaque bytes to and from a content-addressed blob
// store with finite retention.
package blobstore

import (
	"context"
	"net/url"
	"strings"

	"sealgate/internal/errs"
	"sealgate/internal/models"
)

// DefaultEpochs is the retention requested when none is configured.
const DefaultEpochs = 1

// blobsPath is the route prefix shared by publisher and aggregator.
const blobsPath = "/v1/blobs"

// Transport is the blob store interface used by the publish and access
// flows. Both store outcomes are normalized into models.BlobResult.
type Transport interface {
	Store(ctx context.Context, data []byte, epochs int) (models.BlobResult, error)
	// Fetch returns errs.NotFound or errs.Expired for blobs that cannot be
	// served; both are terminal.
	Fetch(ctx context.Context, blobID string) ([]byte, error)
	// URL is the aggregator URL recorded on the ledger for blobID.
	URL(blobID string) string
}

// BlobURL joins an aggregator base URL and a blob id.
func BlobURL(base, blobID string) string {
	return strings.TrimRight(base, "/") + blobsPath + "/" + url.PathEscape(blobID)
}

// ParseURL recovers the blob id from a URL produced by BlobURL.
func ParseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errs.New(errs.InvalidInput, "invalid blob url %q: %v", raw, err)
	}
	idx := strings.LastIndex(u.Path, blobsPath+"/")
	if idx < 0 {
		return "", errs.New(errs.InvalidInput, "not a blob url: %q", raw)
	}
	id, err := url.PathUnescape(u.Path[idx+len(blobsPath)+1:])
	if err != nil || id == "" || strings.Contains(id, "/") {
		return "", errs.New(errs.InvalidInput, "not a blob url: %q", raw)
	}
	return id, nil
}

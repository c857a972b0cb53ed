package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage. Used for best-effort settlement
// report archival after a market closes.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

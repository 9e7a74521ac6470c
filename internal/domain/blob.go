package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to S3-compatible storage. The opportunity
// archiver is the only producer; the archive surface is write-only.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

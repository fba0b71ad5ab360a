package storage

import (
	"context"
	"io"
)

// ObjectStorage is the object store scan snapshots are archived to.
type ObjectStorage interface {
	// Put writes an object, replacing any existing object under key.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// URL returns the address an object can be fetched from.
	URL(key string) string
}

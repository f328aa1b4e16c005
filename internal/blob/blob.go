// Package blob provides the content-addressable object store the image
// pipeline uploads into. Keys are deterministic hash-derived filenames, so
// re-uploading the same content is idempotent.
package blob

import "context"

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key      string
	Size     int64
	Metadata map[string]string
}

// Store is the content-addressable store contract.
type Store interface {
	Set(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// PublicURL returns the URL the stored object is served from.
	PublicURL(key string) string
}

// Package filestore defines the interface for object storage backends.
//
// connhub uses it as an alternative source for embedded-file databases: a
// SQLite path such as "s3://datasets/sales.db" is fetched through a Store
// and opened from a local copy.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	obj, err := store.GetObject(ctx, "datasets", "sales.db")
package filestore

import (
	"context"
	"strings"
)

// ObjectScheme prefixes database paths that live in object storage.
const ObjectScheme = "s3://"

// Store is the interface all object storage providers implement.
// Scoped to read operations.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources (connections, goroutines, etc.).
	Close() error

	// ListObjects returns the objects in bucket that match opts.
	// Virtual directory entries (common prefixes) are included when opts.Recursive is false.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// GetObject opens a streaming handle to the object at key inside bucket.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	// StatObject returns metadata for the object at key inside bucket
	// without downloading its content.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
}

// ParseObjectPath splits "s3://bucket/key" into its parts. ok is false for
// anything that is not a complete object path.
func ParseObjectPath(path string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(path, ObjectScheme)
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Package storage archives raw uploads in an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"time"
)

// UploadPrefix is the key prefix of archived uploads.
const UploadPrefix = "uploads"

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// PutOptions are optional parameters for uploading objects. Size is the exact
// number of bytes, or -1 when unknown.
type PutOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is an object store client. Implementations are safe for concurrent
// use.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, opt PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// UploadKey returns the archive key of a document.
func UploadKey(documentID string) string {
	return path.Join(UploadPrefix, documentID)
}

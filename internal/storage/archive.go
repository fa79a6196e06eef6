package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
)

// Archive stores raw document bytes under UploadKey.
type Archive struct {
	store Storage
}

// NewArchive wraps store.
func NewArchive(store Storage) *Archive {
	return &Archive{store: store}
}

// Save archives data for documentID. The content type is sniffed from the
// bytes.
func (a *Archive) Save(ctx context.Context, documentID, name string, data []byte) (ObjectInfo, error) {
	info, err := a.store.Put(ctx, UploadKey(documentID), bytes.NewReader(data), PutOptions{
		Size:        int64(len(data)),
		ContentType: http.DetectContentType(data),
		Metadata:    map[string]string{"name": name},
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("archive %s: %w", documentID, err)
	}
	return info, nil
}

// Load returns the archived bytes of documentID.
func (a *Archive) Load(ctx context.Context, documentID string) ([]byte, error) {
	rc, _, err := a.store.Get(ctx, UploadKey(documentID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read archive %s: %w", documentID, err)
	}
	return buf.Bytes(), nil
}

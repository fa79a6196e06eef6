package pipeline

import (
	"context"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// StatusFunc is called after every status transition of a document,
// including the final complete or failed transition. It runs on the
// processing goroutine and must not block.
type StatusFunc func(documentID string, status model.Status)

type statusObserverKey struct{}

// WithStatusObserver returns a context whose documents report their status
// transitions to fn.
func WithStatusObserver(ctx context.Context, fn StatusFunc) context.Context {
	return context.WithValue(ctx, statusObserverKey{}, fn)
}

func statusObserver(ctx context.Context) StatusFunc {
	fn, _ := ctx.Value(statusObserverKey{}).(StatusFunc)
	return fn
}

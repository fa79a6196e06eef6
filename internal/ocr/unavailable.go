package ocr

import (
	"context"
	"image"
	"sync/atomic"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

func init() {
	Register("unavailable", func(Config) (Engine, error) { return &UnavailableEngine{}, nil })
}

// UnavailableEngine fails every call. It stands in for an unreachable
// backend in diagnostics and tests.
type UnavailableEngine struct {
	calls atomic.Int64
}

// Name implements Engine.
func (u *UnavailableEngine) Name() string { return "unavailable" }

// Recognize implements Engine.
func (u *UnavailableEngine) Recognize(context.Context, image.Image, int) ([]model.Token, error) {
	u.calls.Add(1)
	return nil, model.ErrBackendUnavailable
}

// Calls returns how often Recognize ran.
func (u *UnavailableEngine) Calls() int64 { return u.calls.Load() }

// Close implements Engine.
func (u *UnavailableEngine) Close() error { return nil }

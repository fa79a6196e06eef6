package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// guardedEngine rate limits a remote backend and trips a circuit breaker
// after consecutive failures.
type guardedEngine struct {
	inner   Engine
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]model.Token]
}

// Guard wraps a network backend.
func Guard(inner Engine, rc RemoteConfig) Engine {
	g := &guardedEngine{inner: inner}
	if rc.RequestsPerSecond > 0 {
		burst := rc.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rc.RequestsPerSecond), burst)
	}
	threshold := rc.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	g.breaker = gobreaker.NewCircuitBreaker[[]model.Token](gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: rc.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
	})
	return g
}

func (g *guardedEngine) Name() string { return g.inner.Name() }

func (g *guardedEngine) Recognize(ctx context.Context, img image.Image, page int) ([]model.Token, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", model.ErrBackendUnavailable, err)
		}
	}
	toks, err := g.breaker.Execute(func() ([]model.Token, error) {
		return g.inner.Recognize(ctx, img, page)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit %s", model.ErrBackendUnavailable, g.breaker.State())
	}
	return toks, err
}

func (g *guardedEngine) Close() error { return g.inner.Close() }

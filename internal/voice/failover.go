package voice

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverResponder prefers primary and switches to fallback when a primary
// call fails. Once fallback succeeds it stays active until fallback fails; then
// primary is retried. Cancellation is never treated as a provider failure.
func NewFailoverResponder(primary, fallback Responder) Responder {
	return &failoverResponder{primary: primary, fallback: fallback}
}

type failoverState struct {
	fallbackActive atomic.Bool
}

func (s *failoverState) activateFallback() {
	s.fallbackActive.Store(true)
}

func (s *failoverState) deactivateFallback() {
	s.fallbackActive.Store(false)
}

func (s *failoverState) isFallbackActive() bool {
	return s.fallbackActive.Load()
}

type failoverResponder struct {
	state    failoverState
	primary  Responder
	fallback Responder
}

func (p *failoverResponder) Name() string {
	return NameOf(p.primary) + "+" + NameOf(p.fallback)
}

func (p *failoverResponder) Generate(ctx context.Context, text string) (string, error) {
	if p.state.isFallbackActive() {
		reply, fbErr := p.fallback.Generate(ctx, text)
		if fbErr == nil || ctx.Err() != nil {
			return reply, fbErr
		}
		// Fallback failed after being active; try primary again.
		reply, prErr := p.primary.Generate(ctx, text)
		if prErr == nil {
			p.state.deactivateFallback()
			return reply, nil
		}
		return "", fmt.Errorf("fallback failed: %v; primary failed: %w", fbErr, prErr)
	}

	reply, prErr := p.primary.Generate(ctx, text)
	if prErr == nil || ctx.Err() != nil {
		return reply, prErr
	}
	reply, fbErr := p.fallback.Generate(ctx, text)
	if fbErr != nil {
		return "", fmt.Errorf("primary failed: %v; fallback failed: %w", prErr, fbErr)
	}
	p.state.activateFallback()
	return reply, nil
}

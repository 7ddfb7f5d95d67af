package usecase

import (
	"context"
	"time"
)

// Gate is exported for testing
type Gate struct{ g gate }

func (g *Gate) Pause(d time.Duration) { g.g.pause(d) }

func (g *Gate) Wait(ctx context.Context) error { return g.g.wait(ctx) }

// Concurrency is exported for testing
func (p DispatchPolicy) Concurrency(requested int) int { return p.concurrency(requested) }

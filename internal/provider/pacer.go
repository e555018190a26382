package provider

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a fixed gap between consecutive outbound requests. The
// first call passes immediately; each later call waits out the remainder
// of the gap since the previous one.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewPacer creates a pacer with the given inter-request gap. A zero or
// negative interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Wait blocks until the gap since the previous request has elapsed or ctx
// is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}

	p.mu.Lock()
	now := time.Now()
	if p.last.IsZero() || now.Sub(p.last) >= p.interval {
		p.last = now
		p.mu.Unlock()
		return nil
	}
	remaining := p.interval - now.Sub(p.last)
	p.last = now.Add(remaining)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(remaining):
		return nil
	}
}

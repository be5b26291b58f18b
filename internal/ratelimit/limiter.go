// Package ratelimit bounds the aggregate rate at which download attempts may
// begin, independent of worker concurrency.
//
// The limiter is a permit pool: Acquire consumes one permit, blocking until
// one is available, and a background goroutine refills the pool back to
// capacity once per interval. The refill is to-the-cap rather than additive,
// so a burst of early acquisitions can never bank more than one interval's
// worth of permits. The effective ceiling is therefore `permits` acquisitions
// started per interval, however many workers are blocked in Acquire.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a counting-semaphore permit pool with periodic refill-to-cap.
type Limiter struct {
	permits  chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Limiter with the given permit capacity and refill interval,
// and starts the refill goroutine. Stop must be called to release it.
func New(permits int, interval time.Duration) *Limiter {
	if permits <= 0 {
		permits = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	l := &Limiter{
		permits: make(chan struct{}, permits),
		stop:    make(chan struct{}),
	}
	for i := 0; i < permits; i++ {
		l.permits <- struct{}{}
	}

	go l.refill(interval)
	return l
}

// Acquire consumes one permit, blocking until one is available or the
// context is done. A blocked Acquire returns promptly on cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case <-l.permits:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the refill goroutine. Pending Acquire calls are not released;
// cancel their contexts to unblock them.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) refill(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Top up to capacity. The channel buffer is the cap, so the
			// inner loop stops as soon as the pool is full.
			for filled := false; !filled; {
				select {
				case l.permits <- struct{}{}:
				default:
					filled = true
				}
			}
		case <-l.stop:
			return
		}
	}
}

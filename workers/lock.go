package workers

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// RelayLock serializes payouts. Acquire blocks until the lock is held or ctx is done.
type RelayLock interface {
	Acquire(ctx context.Context) error
	Release()
}

type fifoLock struct {
	sem *semaphore.Weighted
}

// NewRelayLock returns a process-wide lock granted to waiters in arrival order
func NewRelayLock() RelayLock {
	return &fifoLock{sem: semaphore.NewWeighted(1)}
}

func (l *fifoLock) Acquire(ctx context.Context) error { return l.sem.Acquire(ctx, 1) }
func (l *fifoLock) Release()                          { l.sem.Release(1) }

// NoopLock lets payouts overlap
type NoopLock struct{}

func (NoopLock) Acquire(ctx context.Context) error { return ctx.Err() }
func (NoopLock) Release()                          {}

package runlock

import (
	"context"
	"sync"
	"time"
)

// MemoryLock only arbitrates within one process.
type MemoryLock struct {
	opts Options

	mu         sync.Mutex
	held       bool
	token      string
	acquiredAt time.Time
}

func NewMemoryLock(opts Options) *MemoryLock {
	return &MemoryLock{opts: opts.withDefaults()}
}

func (l *MemoryLock) TryAcquire(ctx context.Context) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return Lease{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.opts.Now()
	if l.held && now.Sub(l.acquiredAt) <= l.opts.TTL {
		return Lease{}, ErrLocked
	}
	lease := newLease(now)
	l.held = true
	l.token = lease.Token
	l.acquiredAt = now
	return lease, nil
}

func (l *MemoryLock) Release(_ context.Context, lease Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	if l.token != lease.Token {
		return ErrLeaseLost
	}
	l.clear()
	return nil
}

func (l *MemoryLock) Clear(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clear()
	return nil
}

func (l *MemoryLock) clear() {
	l.held = false
	l.token = ""
	l.acquiredAt = time.Time{}
}

func (l *MemoryLock) IsStale(ctx context.Context) (bool, error) {
	s, err := l.Status(ctx)
	return s.Stale, err
}

func (l *MemoryLock) Status(context.Context) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return status("memory", l.held, l.token, l.acquiredAt, l.opts), nil
}

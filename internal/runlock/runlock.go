// Package runlock arbitrates which process may run a sync.
//
// A lock is an advisory marker with a creation time. A marker older than the
// TTL belongs to an abandoned run and is reclaimed by the next TryAcquire.
// Every acquisition returns a Lease, and Release only removes a marker that
// still carries the lease token, so a run that overran its TTL cannot free
// the lock of the run that reclaimed it. Backends are chosen by DSN, see Open.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLocked       = errors.New("run lock is held")
	ErrLeaseLost    = errors.New("run lock was reclaimed by another holder")
	ErrInvalidInput = errors.New("invalid input")
)

type Lock interface {
	// TryAcquire takes the lock or returns ErrLocked when a fresh marker
	// exists. A stale marker is removed first.
	TryAcquire(ctx context.Context) (Lease, error)
	// Release removes the marker when it still belongs to lease. A marker
	// that another holder took over is left alone and ErrLeaseLost is
	// returned. Releasing a free lock is not an error.
	Release(ctx context.Context, lease Lease) error
	// Clear removes the marker whoever holds it.
	Clear(ctx context.Context) error
	IsStale(ctx context.Context) (bool, error)
	Status(ctx context.Context) (Status, error)
}

// Lease identifies one successful TryAcquire.
type Lease struct {
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// newLease names the holder as host:pid:uuid so a marker can be traced back
// to the process that wrote it.
func newLease(now time.Time) Lease {
	host, _ := os.Hostname()
	return Lease{
		Token:      fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()),
		AcquiredAt: now,
	}
}

type Status struct {
	Backend    string        `json:"backend" yaml:"backend"`
	Held       bool          `json:"held" yaml:"held"`
	Owner      string        `json:"owner,omitempty" yaml:"owner,omitempty"`
	AcquiredAt time.Time     `json:"acquiredAt,omitempty" yaml:"acquired_at,omitempty"`
	Age        time.Duration `json:"age,omitempty" yaml:"age,omitempty"`
	TTL        time.Duration `json:"ttl" yaml:"ttl"`
	Stale      bool          `json:"stale" yaml:"stale"`
}

type Options struct {
	TTL time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

const DefaultTTL = 120 * time.Second

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func status(backend string, held bool, owner string, acquiredAt time.Time, opts Options) Status {
	s := Status{Backend: backend, Held: held, TTL: opts.TTL}
	if !held {
		return s
	}
	s.Owner = owner
	s.AcquiredAt = acquiredAt
	s.Age = opts.Now().Sub(acquiredAt)
	s.Stale = s.Age > opts.TTL
	return s
}

// Close releases backend resources when the lock holds any.
func Close(l Lock) error {
	if closer, ok := l.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

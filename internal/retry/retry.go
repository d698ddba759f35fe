// Package retry is the backoff policy shared by the outbound HTTP clients:
// capped exponential delays, a retry budget, and one-shot Retry-After
// overrides from the server.
package retry

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultMaxDelay   = 2 * time.Second
)

// Policy bounds a retried operation. MaxRetries 0 means DefaultMaxRetries,
// a negative value disables retries.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (p Policy) withDefaults() Policy {
	switch {
	case p.MaxRetries < 0:
		p.MaxRetries = 0
	case p.MaxRetries == 0:
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// BackOff doubles from BaseDelay up to MaxDelay. Hint replaces the next delay
// once.
type BackOff struct {
	backoff.BackOff
	max  time.Duration
	next time.Duration
}

func (p Policy) NewBackOff() *BackOff {
	p = p.withDefaults()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &BackOff{BackOff: exp, max: p.MaxDelay}
}

// Hint applies a Retry-After header value, capped at MaxDelay.
func (b *BackOff) Hint(retryAfter string) {
	d := ParseRetryAfter(retryAfter)
	if d <= 0 {
		return
	}
	if b.max > 0 && d > b.max {
		d = b.max
	}
	b.next = d
}

func (b *BackOff) NextBackOff() time.Duration {
	fallback := b.BackOff.NextBackOff()
	if b.next > 0 {
		d := b.next
		b.next = 0
		return d
	}
	return fallback
}

func (b *BackOff) Reset() {
	b.next = 0
	b.BackOff.Reset()
}

// Do runs op until it succeeds, returns a Permanent error, ctx ends or the
// retry budget is spent. op receives the backoff so it can pass on
// Retry-After hints.
func Do(ctx context.Context, p Policy, op func(bo *BackOff) error) error {
	p = p.withDefaults()
	bo := p.NewBackOff()
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.MaxRetries)), ctx)
	return backoff.Retry(func() error { return op(bo) }, policy)
}

// Permanent stops Do and makes it return err.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// ParseRetryAfter accepts delay seconds or an HTTP date.
func ParseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

// Retryable reports whether an HTTP status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// Package cache signals downstream caches that the mirrored tree changed.
package cache

import (
	"context"
	"errors"

	"github.com/agentworkforce/contentmirror/internal/config"
)

type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Noop struct{}

func (Noop) Invalidate(context.Context) error { return nil }

// Multi signals every invalidator and joins their errors.
type Multi []Invalidator

func (m Multi) Invalidate(ctx context.Context) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		if err := inv.Invalidate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the invalidators named in cfg. With neither a URL nor a
// directory configured it returns Noop.
func FromConfig(cfg config.CacheConfig, opts HTTPOptions) Invalidator {
	var out Multi
	if cfg.Dir != "" {
		out = append(out, NewDirInvalidator(cfg.Dir))
	}
	if cfg.URL != "" {
		opts.URL = cfg.URL
		out = append(out, NewHTTPInvalidator(opts))
	}
	switch len(out) {
	case 0:
		return Noop{}
	case 1:
		return out[0]
	default:
		return out
	}
}

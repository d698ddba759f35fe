package runlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileLock is a marker file whose modification time is the acquisition time.
// Check-and-create runs under an exclusive flock on a sibling guard file so
// two processes cannot both see the marker missing. The marker body records
// the lease token that Release checks.
type FileLock struct {
	path      string
	guardPath string
	opts      Options
	mu        sync.Mutex
}

type fileLockOwner struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host,omitempty"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

func NewFileLock(path string, opts Options) (*FileLock, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &FileLock{
		path:      filepath.Clean(path),
		guardPath: filepath.Clean(path) + ".guard",
		opts:      opts.withDefaults(),
	}, nil
}

func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) TryAcquire(ctx context.Context) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return Lease{}, err
	}
	var lease Lease
	err := l.withGuard(func() error {
		info, err := os.Stat(l.path)
		switch {
		case err == nil:
			if l.opts.Now().Sub(info.ModTime()) <= l.opts.TTL {
				return ErrLocked
			}
			if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove stale lock: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return err
		}
		lease = newLease(l.opts.Now())
		return l.writeMarker(lease)
	})
	if err != nil {
		return Lease{}, err
	}
	return lease, nil
}

func (l *FileLock) Release(_ context.Context, lease Lease) error {
	return l.withGuard(func() error {
		owner, err := l.readMarker()
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if owner.Token == "" || owner.Token != lease.Token {
			return ErrLeaseLost
		}
		return l.removeMarker()
	})
}

func (l *FileLock) Clear(context.Context) error {
	return l.withGuard(l.removeMarker)
}

func (l *FileLock) removeMarker() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// readMarker decodes the marker body. A marker that does not decode, such as
// one written by hand, yields an empty owner.
func (l *FileLock) readMarker() (fileLockOwner, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fileLockOwner{}, err
	}
	var owner fileLockOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return fileLockOwner{}, nil
	}
	return owner, nil
}

func (l *FileLock) IsStale(ctx context.Context) (bool, error) {
	s, err := l.Status(ctx)
	return s.Stale, err
}

func (l *FileLock) Status(context.Context) (Status, error) {
	info, err := os.Stat(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return status("file", false, "", time.Time{}, l.opts), nil
	}
	if err != nil {
		return Status{}, err
	}
	owner, _ := l.readMarker()
	return status("file", true, owner.Token, info.ModTime(), l.opts), nil
}

func (l *FileLock) writeMarker(lease Lease) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	now := lease.AcquiredAt
	host, _ := os.Hostname()
	data, err := json.Marshal(fileLockOwner{PID: os.Getpid(), Host: host, Token: lease.Token, AcquiredAt: now.UTC()})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrLocked
		}
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(l.path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return err
	}
	return os.Chtimes(l.path, now, now)
}

func (l *FileLock) withGuard(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.guardPath), 0o755); err != nil {
		return err
	}
	guard, err := os.OpenFile(l.guardPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer guard.Close()
	if err := flockExclusive(guard); err != nil {
		return fmt.Errorf("lock guard %s: %w", l.guardPath, err)
	}
	defer func() { _ = flockUnlock(guard) }()
	return fn()
}

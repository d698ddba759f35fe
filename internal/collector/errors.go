package collector

import (
	"errors"
	"fmt"

	"github.com/agentworkforce/contentmirror/internal/runlock"
)

var (
	// ErrLocked is returned by Run when another run holds the lock. It is the
	// same value as runlock.ErrLocked.
	ErrLocked     = runlock.ErrLocked
	ErrTransport  = errors.New("transport error")
	ErrFilesystem = errors.New("filesystem error")
)

// TransportError wraps a failed call against the content API.
type TransportError struct {
	Op         string
	Collection string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// FilesystemError wraps a failed write or delete in the mirrored tree.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

func (e *FilesystemError) Is(target error) bool {
	return target == ErrFilesystem
}

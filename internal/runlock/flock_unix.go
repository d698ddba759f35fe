//go:build unix

package runlock

import (
	"os"

	"golang.org/x/sys/unix"
)

// flockExclusive blocks until the guard is ours. The guarded section is a
// stat plus a small write, so waiting is short.
func flockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

func flockUnlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

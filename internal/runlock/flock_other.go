//go:build !unix

package runlock

import "os"

// Without flock the in-process mutex is the only guard; O_EXCL on the marker
// still keeps two creators from both succeeding.
func flockExclusive(*os.File) error { return nil }

func flockUnlock(*os.File) error { return nil }

package collector

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentworkforce/contentmirror/internal/config"
)

// Reconciler removes record directories that the last fetch did not produce.
type Reconciler struct{}

// Sweep deletes every immediate subdirectory of the mapping path whose full
// path is not in seen, children before parents. Dot directories are not
// record entries and are never touched. A missing mapping path is a no-op.
func (Reconciler) Sweep(m config.MappingConfig, seen map[string]struct{}) ([]string, error) {
	entries, err := os.ReadDir(m.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &FilesystemError{Op: "list", Path: m.Path, Err: err}
	}
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(m.Path, entry.Name())
		if _, ok := seen[path]; ok {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, &FilesystemError{Op: "remove", Path: path, Err: err}
		}
		removed = append(removed, path)
	}
	return removed, nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirInvalidator empties a page cache directory. The directory itself is
// kept so a renderer holding it open keeps working.
type DirInvalidator struct {
	dir string
}

func NewDirInvalidator(dir string) *DirInvalidator {
	return &DirInvalidator{dir: filepath.Clean(strings.TrimSpace(dir))}
}

func (d *DirInvalidator) Invalidate(ctx context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Dotfiles such as .gitkeep stay.
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(d.dir, entry.Name())); err != nil {
			return fmt.Errorf("clear cache entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

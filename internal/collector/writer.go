package collector

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentworkforce/contentmirror/internal/config"
)

// legacyDataFile is the single-file format older mirrors wrote per record.
const legacyDataFile = "data.json"

// Writer materializes documents under a mapping's path, one directory per
// record id.
type Writer struct {
	FileMode os.FileMode
	DirMode  os.FileMode
}

func NewWriter() *Writer {
	return &Writer{FileMode: 0o644, DirMode: 0o755}
}

// DocumentPath is <path>/<id>/<filename>.md, or <filename>.<lang>.md for a
// translation where lang is the first two letters of the language code.
func DocumentPath(m config.MappingConfig, recordID, languageCode string) string {
	name := m.Filename + ".md"
	if languageCode != "" {
		name = m.Filename + "." + shortLanguage(languageCode) + ".md"
	}
	return filepath.Join(m.Path, recordID, name)
}

// Write stores content for a record. The record directory is created only
// when missing so sibling files survive. It reports whether the file changed;
// identical content is left untouched.
func (w *Writer) Write(content []byte, recordID string, m config.MappingConfig, languageCode string) (bool, error) {
	if err := validateRecordID(recordID); err != nil {
		return false, &FilesystemError{Op: "write", Path: filepath.Join(m.Path, recordID), Err: err}
	}
	dir := filepath.Join(m.Path, recordID)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, w.DirMode); err != nil {
			return false, &FilesystemError{Op: "mkdir", Path: dir, Err: err}
		}
	} else if err != nil {
		return false, &FilesystemError{Op: "stat", Path: dir, Err: err}
	}
	legacy := filepath.Join(dir, legacyDataFile)
	if err := os.Remove(legacy); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, &FilesystemError{Op: "remove", Path: legacy, Err: err}
	}

	path := DocumentPath(m, recordID, languageCode)
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, content) {
		return false, nil
	}
	if err := writeFileAtomic(path, content, w.FileMode); err != nil {
		return false, &FilesystemError{Op: "write", Path: path, Err: err}
	}
	return true, nil
}

func shortLanguage(code string) string {
	code = strings.TrimSpace(code)
	if len(code) > 2 {
		return code[:2]
	}
	return code
}

func validateRecordID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("record id is empty")
	case id == "." || id == "..", strings.ContainsAny(id, `/\`), strings.HasPrefix(id, "."):
		return fmt.Errorf("record id %q is not a valid directory name", id)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DateLayout is the format of a batch date stamp.
const DateLayout = "20060102"

// LocalBatch is the staging directory for one remote folder on one run
// date: <root>/<folder>/<YYYYMMDD>. Re-running on the same day reuses it.
type LocalBatch struct {
	Folder    string
	DateStamp string
	Path      string
}

// NewLocalBatch describes the batch directory without creating it.
func NewLocalBatch(root, folder string, now time.Time) LocalBatch {
	stamp := now.Format(DateLayout)
	return LocalBatch{
		Folder:    folder,
		DateStamp: stamp,
		Path:      filepath.Join(root, folder, stamp),
	}
}

// Ensure creates the batch directory if it is absent.
func (b LocalBatch) Ensure() error {
	if err := os.MkdirAll(b.Path, 0755); err != nil {
		return fmt.Errorf("create batch directory %s: %w", b.Path, err)
	}
	return nil
}

// Exists reports whether the batch directory is present.
func (b LocalBatch) Exists() bool {
	info, err := os.Stat(b.Path)
	return err == nil && info.IsDir()
}

// FilePath returns the local path of a file stored in the batch.
func (b LocalBatch) FilePath(name string) string {
	return filepath.Join(b.Path, filepath.Base(name))
}

// WriteFile streams r into the batch under name, replacing any existing
// file. The data is written to a .part file first and renamed into place,
// so an interrupted copy never leaves a truncated file under name.
func (b LocalBatch) WriteFile(name string, r io.Reader) (int64, error) {
	p := b.FilePath(name)
	tempPath := p + ".part"

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("create temp file %s: %w", tempPath, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tempPath)
		return n, fmt.Errorf("write %s: %w", tempPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return n, fmt.Errorf("close %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, p); err != nil {
		os.Remove(tempPath)
		return n, fmt.Errorf("rename %s to %s: %w", tempPath, p, err)
	}
	return n, nil
}

// IsRegularFile reports whether name exists in the batch as a regular file.
func (b LocalBatch) IsRegularFile(name string) bool {
	info, err := os.Stat(b.FilePath(name))
	return err == nil && info.Mode().IsRegular()
}

// Purge deletes the batch directory recursively. Entries that are already
// gone are not an error.
func (b LocalBatch) Purge() error {
	err := os.RemoveAll(b.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("purge batch %s: %w", b.Path, err)
	}
	return nil
}

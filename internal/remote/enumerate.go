package remote

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrFolderListing is returned when a remote directory cannot be listed.
var ErrFolderListing = errors.New("folder listing failed")

// ListFolders returns the immediate subdirectories of the remote root.
// Plain files at the root are not folders and are ignored.
func ListFolders(sess Session) ([]string, error) {
	entries, err := sess.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("%w: root: %w", ErrFolderListing, err)
	}

	var folders []string
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, e.Name())
		}
	}
	return folders, nil
}

// ListFiles returns the transferable files of one folder in listing order.
// Files directly under folder and files exactly one subdirectory below it
// are returned; deeper levels are not descended into. allow filters by file
// name; nil allows everything.
func ListFiles(sess Session, folder string, allow func(name string) bool) ([]FileRef, error) {
	entries, err := sess.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFolderListing, folder, err)
	}

	var refs []FileRef
	for _, e := range entries {
		p := path.Join(folder, e.Name())
		if !e.IsDir() {
			if allow == nil || allow(e.Name()) {
				refs = append(refs, FileRef{Path: p, Size: e.Size(), ModTime: e.ModTime()})
			}
			continue
		}

		nested, err := sess.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFolderListing, p, err)
		}
		for _, ne := range nested {
			if ne.IsDir() {
				continue
			}
			if allow == nil || allow(ne.Name()) {
				refs = append(refs, FileRef{Path: path.Join(p, ne.Name()), Size: ne.Size(), ModTime: ne.ModTime()})
			}
		}
	}
	return refs, nil
}

// ExtensionFilter allows file names ending in one of its suffixes,
// compared case-insensitively. An empty filter allows every name.
type ExtensionFilter []string

func (f ExtensionFilter) Allows(name string) bool {
	if len(f) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range f {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

package remote

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// localSession serves a directory tree on the local filesystem as if it
// were the remote endpoint. Used for mounted drop boxes and tests.
type localSession struct {
	root string
}

// OpenLocal creates a Session rooted at a local directory.
func OpenLocal(root string) (Session, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &ConnectError{Kind: Unreachable, Addr: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ConnectError{Kind: Unreachable, Addr: root, Err: fmt.Errorf("%s is not a directory", root)}
	}
	return &localSession{root: root}, nil
}

// abs maps a session path to the filesystem, refusing to escape the root.
func (s *localSession) abs(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+p)))
}

func (s *localSession) ReadDir(dir string) ([]fs.FileInfo, error) {
	entries, err := os.ReadDir(s.abs(dir))
	if err != nil {
		return nil, err
	}

	infos := make([]fs.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *localSession) Open(name string) (io.ReadCloser, error) {
	return os.Open(s.abs(name))
}

func (s *localSession) Remove(name string) error {
	return os.Remove(s.abs(name))
}

func (s *localSession) Close() error {
	return nil
}

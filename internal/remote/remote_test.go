package remote

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/lab-ingest/internal/config"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
}

func openLocal(t *testing.T, root string) Session {
	t.Helper()
	sess, err := OpenLocal(root)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestListFoldersSkipsPlainFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"LabA/a.fastq.gz": "a",
		"LabB/b.fastq.gz": "b",
		"README.txt":      "not a folder",
	})
	require.NoError(t, os.Mkdir(filepath.Join(root, "Empty"), 0755))

	folders, err := ListFolders(openLocal(t, root))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"LabA", "LabB", "Empty"}, folders)
}

func TestListFilesFlattensOneLevel(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"LabA/top.fastq.gz":              "1",
		"LabA/run1/nested.fastq.gz":      "2",
		"LabA/run1/deeper/skip.fastq.gz": "3",
		"LabA/run1/notes.docx":           "4",
		"LabA/meta.xlsx":                 "5",
	})

	allow := ExtensionFilter{".fastq.gz", ".xlsx"}.Allows
	refs, err := ListFiles(openLocal(t, root), "LabA", allow)
	require.NoError(t, err)

	var paths []string
	for _, r := range refs {
		paths = append(paths, r.Path)
	}
	assert.ElementsMatch(t, []string{
		"LabA/top.fastq.gz",
		"LabA/run1/nested.fastq.gz",
		"LabA/meta.xlsx",
	}, paths)

	for _, r := range refs {
		if r.Path == "LabA/run1/nested.fastq.gz" {
			assert.Equal(t, "nested.fastq.gz", r.Name())
			assert.EqualValues(t, 1, r.Size)
		}
	}
}

func TestListFilesEmptyFolder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "LabC"), 0755))

	refs, err := ListFiles(openLocal(t, root), "LabC", nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestListFilesMissingFolder(t *testing.T) {
	_, err := ListFiles(openLocal(t, t.TempDir()), "ghost", nil)
	assert.ErrorIs(t, err, ErrFolderListing)
}

func TestExtensionFilter(t *testing.T) {
	f := ExtensionFilter{".fastq.gz", ".XLSX"}
	assert.True(t, f.Allows("S1_R1.FASTQ.GZ"))
	assert.True(t, f.Allows("meta.xlsx"))
	assert.False(t, f.Allows("notes.docx"))
	assert.True(t, ExtensionFilter(nil).Allows("anything"))
}

func TestLocalSessionOpenAndRemove(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"LabA/x.txt": "payload"})
	sess := openLocal(t, root)

	rc, err := sess.Open("LabA/x.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(body))

	require.NoError(t, sess.Remove("LabA/x.txt"))
	_, err = sess.Open("LabA/x.txt")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLocalSessionStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	s := &localSession{root: root}
	assert.Equal(t, filepath.Join(root, "etc", "passwd"), s.abs("../../etc/passwd"))
}

func TestOpenLocalMissingRootIsUnreachable(t *testing.T) {
	_, err := OpenLocal(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrAuthFailure)

	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, Unreachable, ce.Kind)
}

func TestNewOpenerUnknownProtocol(t *testing.T) {
	open := NewOpener(config.RemoteConfig{Protocol: "ftp"})
	_, err := open(context.Background())
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestNewOpenerLocal(t *testing.T) {
	open := NewOpener(config.RemoteConfig{Protocol: "local", Root: t.TempDir()})
	sess, err := open(context.Background())
	require.NoError(t, err)
	assert.NoError(t, sess.Close())
}

func TestSFTPCloseIsSafeWhenPartiallyOpened(t *testing.T) {
	var nilSession *sftpSession
	assert.NoError(t, nilSession.Close())

	s := &sftpSession{}
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestClassifyHandshakeError(t *testing.T) {
	assert.Equal(t, AuthFailure, classifyHandshakeError(errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]")))
	assert.Equal(t, AuthFailure, classifyHandshakeError(errors.New("ssh: handshake failed: knownhosts: key mismatch")))
	assert.Equal(t, Unreachable, classifyHandshakeError(errors.New("read tcp: connection reset by peer")))
}

func TestSFTPUnreachableEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	open := NewOpener(config.RemoteConfig{
		Protocol:              "sftp",
		Host:                  "127.0.0.1",
		Port:                  1,
		Username:              "lab",
		InsecureIgnoreHostKey: true,
		ConnectAttempts:       1,
	})
	sess, err := open(ctx)
	require.Error(t, err)
	assert.Nil(t, sess)
}

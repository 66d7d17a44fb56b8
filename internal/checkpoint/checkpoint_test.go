package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/lab-ingest/internal/remote"
)

func TestFileManagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "checkpoints")
	mgr, err := NewManager(Config{Enabled: true, Dir: dir})
	require.NoError(t, err)

	_, err = mgr.Load(ctx, "LabA")
	assert.True(t, errors.Is(err, ErrNoCheckpoint))

	cp := &Checkpoint{
		Folder:      "LabA",
		Fingerprint: "0123456789abcdef",
		FileCount:   3,
		DateStamp:   "20260314",
		ManifestKey: "LabA_20260314.json",
		RunID:       "run-1",
		AcceptedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, mgr.Save(ctx, cp))

	got, err := mgr.Load(ctx, "LabA")
	require.NoError(t, err)
	assert.Equal(t, cp, got)

	_, err = mgr.Load(ctx, "LabB")
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCheckpointPathKeepsFoldersApart(t *testing.T) {
	m := &fileManager{dir: "/cp"}
	a := m.checkpointPath("Lab A")
	b := m.checkpointPath("Lab_A")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "/cp", filepath.Dir(m.checkpointPath("../../etc")))
}

func TestNoopManager(t *testing.T) {
	mgr, err := NewManager(Config{})
	require.NoError(t, err)
	require.NoError(t, mgr.Save(context.Background(), &Checkpoint{Folder: "LabA"}))
	_, err = mgr.Load(context.Background(), "LabA")
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestFingerprint(t *testing.T) {
	mod := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	refs := []remote.FileRef{
		{Path: "LabA/S1_R1_.fastq.gz", Size: 100, ModTime: mod},
		{Path: "LabA/meta.xlsx", Size: 10, ModTime: mod},
	}
	reordered := []remote.FileRef{refs[1], refs[0]}
	assert.Equal(t, Fingerprint(refs), Fingerprint(reordered))
	assert.Len(t, Fingerprint(refs), 16)

	grown := []remote.FileRef{refs[0], {Path: "LabA/meta.xlsx", Size: 11, ModTime: mod}}
	assert.NotEqual(t, Fingerprint(refs), Fingerprint(grown))

	touched := []remote.FileRef{refs[0], {Path: "LabA/meta.xlsx", Size: 10, ModTime: mod.Add(time.Minute)}}
	assert.NotEqual(t, Fingerprint(refs), Fingerprint(touched))

	assert.NotEqual(t, Fingerprint(refs), Fingerprint(refs[:1]))
}

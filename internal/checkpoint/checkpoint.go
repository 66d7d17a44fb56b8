package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/withObsrvr/lab-ingest/internal/remote"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint records the remote listing of the last accepted batch of a
// folder.
type Checkpoint struct {
	Folder      string    `json:"folder"`
	Fingerprint string    `json:"fingerprint"`
	FileCount   int       `json:"file_count"`
	DateStamp   string    `json:"date_stamp"`
	ManifestKey string    `json:"manifest_key"`
	RunID       string    `json:"run_id"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint of folder.
	Load(ctx context.Context, folder string) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// Fingerprint hashes a remote listing. It changes when a file is added,
// removed, resized or touched; listing order does not matter.
func Fingerprint(refs []remote.FileRef) string {
	sorted := append([]remote.FileRef(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := xxhash.New()
	for _, r := range sorted {
		h.WriteString(r.Path)
		h.WriteString("\x00")
		h.WriteString(strconv.FormatInt(r.Size, 10))
		h.WriteString("\x00")
		h.WriteString(strconv.FormatInt(r.ModTime.Unix(), 10))
		h.WriteString("\n")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// fileManager persists one JSON file per folder.
type fileManager struct {
	dir string
}

// checkpointPath returns the checkpoint file of folder. Folder names are
// reduced to a safe file name; the hash suffix keeps distinct folders apart.
func (m *fileManager) checkpointPath(folder string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, folder)
	filename := fmt.Sprintf("checkpoint_%s_%08x.json", safe, uint32(xxhash.Sum64String(folder)))
	return filepath.Join(m.dir, filename)
}

func (m *fileManager) Load(ctx context.Context, folder string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(folder))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	path := m.checkpointPath(cp.Folder)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, folder string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}

package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackup writes each event to its own JSON file.
type FileBackup struct {
	dir string
}

func NewFileBackup(dir string) (*FileBackup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

// Path returns the file an event is stored in:
// {folder}_{date}_{run_id}.json
func (f *FileBackup) Path(evt *Event) string {
	name := fmt.Sprintf("%s_%s_%s.json", evt.Batch.Folder, evt.Batch.DateStamp, evt.Batch.RunID)
	return filepath.Join(f.dir, name)
}

// Save writes evt atomically.
func (f *FileBackup) Save(evt *Event) error {
	if err := writeJSONAtomic(f.Path(evt), evt); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Load reads an event written by Save.
func Load(path string) (*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("parse event %s: %w", path, err)
	}
	return &evt, nil
}

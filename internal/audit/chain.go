package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoChainHead is returned for a folder that has no recorded decision yet.
var ErrNoChainHead = errors.New("no chain head found")

const headsFileName = "chain-heads.json"

// ChainTracker remembers, per folder, the hash of the newest decision event.
// The whole map lives in one JSON file under the audit directory and is
// rewritten on every update.
type ChainTracker struct {
	mu    sync.RWMutex
	heads map[string]string
	path  string
}

// NewChainTracker opens (or starts) the heads file in dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	ct := &ChainTracker{heads: map[string]string{}, path: filepath.Join(dir, headsFileName)}
	data, err := os.ReadFile(ct.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ct, nil
	case err != nil:
		return nil, fmt.Errorf("read chain heads: %w", err)
	}
	if err := json.Unmarshal(data, &ct.heads); err != nil {
		return nil, fmt.Errorf("parse chain heads %s: %w", ct.path, err)
	}
	return ct, nil
}

// Head returns the newest event hash of a folder chain.
func (ct *ChainTracker) Head(key string) (string, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	if h := ct.heads[key]; h != "" {
		return h, nil
	}
	return "", ErrNoChainHead
}

// SetHead moves the chain of key to hash. The in-memory head is only
// changed when the file was written.
func (ct *ChainTracker) SetHead(key, hash string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	next := make(map[string]string, len(ct.heads)+1)
	for k, v := range ct.heads {
		next[k] = v
	}
	next[key] = hash

	if err := writeJSONAtomic(ct.path, next); err != nil {
		return fmt.Errorf("persist chain heads: %w", err)
	}
	ct.heads = next
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Package audit keeps a tamper-evident record of batch decisions. Every
// accepted, rejected or aborted batch produces one Event whose hash chains
// to the previous Event of the same folder.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

const (
	EventVersion = "1.0"
	EventType    = "batch_decision"
)

// Event records the decision taken for one local batch.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Batch    BatchInfo           `json:"batch"`
	Files    map[string]FileInfo `json:"files"`
	Producer ProducerInfo        `json:"producer"`
	Chain    ChainInfo           `json:"chain"`
}

// BatchInfo identifies the batch and its outcome.
type BatchInfo struct {
	Folder      string `json:"folder"`
	DateStamp   string `json:"date_stamp"`
	RunID       string `json:"run_id"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	ManifestKey string `json:"manifest_key,omitempty"`
}

// ChainKey returns the key of the chain this batch extends. Each remote
// folder has its own chain.
func (b BatchInfo) ChainKey() string {
	return b.Folder
}

// FileInfo is the checksum bookkeeping of one file at decision time.
type FileInfo struct {
	MD5       string `json:"md5"`
	Status    string `json:"status"` // verified | unknown | failed
	LocalPath string `json:"local_path,omitempty"`
	ByteSize  int64  `json:"byte_size"`
}

// ProducerInfo identifies the software that took the decision.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links an event to its predecessor.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ComputeEventHash hashes the JSON encoding of evt with event_hash blanked.
// Map keys are emitted sorted, so file order does not affect the result.
func ComputeEventHash(evt *Event) string {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// SetChainHashes links evt to prev and computes its own hash.
func (e *Event) SetChainHashes(prev string) {
	e.Chain.PrevEventHash = prev
	e.Chain.EventHash = ComputeEventHash(e)
}

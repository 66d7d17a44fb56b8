package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// BatchManifest is the correlation output of an accepted batch. It is the
// only artifact the downstream uploader reads, so field names are stable.
type BatchManifest struct {
	RunID     string        `json:"run_id"`
	Batch     string        `json:"batch"`
	Date      string        `json:"date"`
	LocalPath string        `json:"local_path"`
	Producer  string        `json:"producer"`
	CreatedAt time.Time     `json:"created_at"`
	Samples   []SampleEntry `json:"samples"`
	Warnings  []string      `json:"warnings"`
}

// SampleEntry records the resolved files of one sample. The R2 fields are
// empty for single-end samples.
type SampleEntry struct {
	SampleID string `json:"sample_id"`
	R1File   string `json:"sequence_file_R1_fastq"`
	R1Path   string `json:"sequence_file_path_R1_fastq"`
	R1MD5    string `json:"fastq_r1_md5"`
	R2File   string `json:"sequence_file_R2_fastq,omitempty"`
	R2Path   string `json:"sequence_file_path_R2_fastq,omitempty"`
	R2MD5    string `json:"fastq_r2_md5,omitempty"`
}

// ManifestKey returns the scratch key of the manifest for folder and date.
func ManifestKey(folder, dateStamp string) string {
	return fmt.Sprintf("%s_%s.json", folder, dateStamp)
}

// LedgerKey returns the scratch key of the parquet file ledger.
func LedgerKey(folder, dateStamp string) string {
	return fmt.Sprintf("%s_%s_files.parquet", folder, dateStamp)
}

// Canonical encodes the manifest as UTF-8 JSON with every object's keys
// sorted and a four space indent. Samples are ordered by sample_id.
func (m *BatchManifest) Canonical() ([]byte, error) {
	sorted := *m
	sorted.Samples = append([]SampleEntry(nil), m.Samples...)
	sort.Slice(sorted.Samples, func(i, j int) bool {
		return sorted.Samples[i].SampleID < sorted.Samples[j].SampleID
	})
	if sorted.Samples == nil {
		sorted.Samples = []SampleEntry{}
	}
	if sorted.Warnings == nil {
		sorted.Warnings = []string{}
	}

	raw, err := json.Marshal(&sorted)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	// Round-trip through a generic value: encoding/json emits map keys sorted.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteManifest stores m under its deterministic key and returns the key.
func (s *ScratchStore) WriteManifest(ctx context.Context, m *BatchManifest) (string, error) {
	data, err := m.Canonical()
	if err != nil {
		return "", err
	}

	key := ManifestKey(m.Batch, m.Date)
	if err := s.Put(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return key, nil
}

// ReadManifest loads a manifest previously stored with WriteManifest.
func (s *ScratchStore) ReadManifest(ctx context.Context, key string) (*BatchManifest, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var m BatchManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", key, err)
	}
	return &m, nil
}

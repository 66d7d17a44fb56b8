// Package checksum computes, parses and persists md5 content hashes for the
// files of one local batch directory.
package checksum

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// StoreFileName is the name of the persisted record set inside a batch
// directory. It is never read as a shipped manifest.
const StoreFileName = ".checksums.json"

var ErrMalformedManifest = errors.New("malformed checksum manifest")

// Reader computes the md5 hex digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File computes the md5 hex digest of the file at p.
func File(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}
	return sum, nil
}

// Equal compares two hex digests ignoring case.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// IsManifestName reports whether a file name denotes a shipped checksum
// manifest: it is listed in names, or it ends in .md5.
func IsManifestName(name string, names []string) bool {
	base := path.Base(filepath.ToSlash(name))
	if base == StoreFileName {
		return false
	}
	if strings.HasSuffix(strings.ToLower(base), ".md5") {
		return true
	}
	for _, n := range names {
		if strings.EqualFold(base, n) {
			return true
		}
	}
	return false
}

// ParseManifest reads md5sum formatted lines ("<hex>  <name>" or
// "<hex> *<name>"). Names are reduced to their base name. Blank lines and
// lines starting with # are ignored. Lines that cannot be parsed and repeated
// names are reported as warnings; for repeated names the last entry wins.
func ParseManifest(r io.Reader) (map[string]string, []string, error) {
	expected := make(map[string]string)
	var warnings []string

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sum, name, ok := strings.Cut(line, " ")
		name = strings.TrimLeft(name, " *")
		if !ok || name == "" || !isMD5Hex(sum) {
			warnings = append(warnings, fmt.Sprintf("line %d: unrecognised entry %q", lineNo, line))
			continue
		}

		name = path.Base(filepath.ToSlash(name))
		if _, dup := expected[name]; dup {
			warnings = append(warnings, fmt.Sprintf("line %d: duplicate entry for %s", lineNo, name))
		}
		expected[name] = strings.ToLower(sum)
	}
	if err := sc.Err(); err != nil {
		return nil, warnings, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
	}
	return expected, warnings, nil
}

func isMD5Hex(s string) bool {
	if len(s) != md5.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// LoadShipped merges the manifests named in files (paths relative to dir).
// Later manifests override earlier ones for the same file name.
func LoadShipped(dir string, files []string) (map[string]string, []string, error) {
	merged := make(map[string]string)
	var warnings []string

	for _, name := range files {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, warnings, fmt.Errorf("open checksum manifest %s: %w", name, err)
		}
		expected, w, err := ParseManifest(f)
		f.Close()
		for _, msg := range w {
			warnings = append(warnings, name+": "+msg)
		}
		if err != nil {
			return nil, warnings, fmt.Errorf("parse checksum manifest %s: %w", name, err)
		}
		for k, v := range expected {
			merged[k] = v
		}
	}
	return merged, warnings, nil
}

// Outcome is the verification state of one record.
type Outcome int

const (
	Unknown Outcome = iota
	Verified
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record holds the checksum bookkeeping for one file of a batch. Shipped is
// empty when no manifest covered the file.
type Record struct {
	FileName  string `json:"file_name"`
	LocalPath string `json:"local_path"`
	Checksum  string `json:"checksum"`
	Shipped   string `json:"shipped_checksum,omitempty"`
}

// Outcome derives the verification state. Records without a shipped value
// are Unknown and never need retransmission. A shipped value with no local
// checksum (the file could not be hashed) is Failed.
func (r Record) Outcome() Outcome {
	switch {
	case r.Shipped == "":
		return Unknown
	case r.Checksum != "" && Equal(r.Checksum, r.Shipped):
		return Verified
	default:
		return Failed
	}
}

// Store keeps exactly one Record per file name for a batch directory.
type Store struct {
	dir     string
	records map[string]Record
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, records: make(map[string]Record)}
}

// Dir returns the batch directory the store describes.
func (s *Store) Dir() string {
	return s.dir
}

// Put inserts or replaces the record for rec.FileName.
func (s *Store) Put(rec Record) {
	s.records[rec.FileName] = rec
}

func (s *Store) Get(name string) (Record, bool) {
	rec, ok := s.records[name]
	return rec, ok
}

func (s *Store) Len() int {
	return len(s.records)
}

// Records returns all records sorted by file name.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out
}

// Save writes the record set to StoreFileName inside the batch directory.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.Records(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checksum records: %w", err)
	}

	p := filepath.Join(s.dir, StoreFileName)
	tempPath := p + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checksum temp file: %w", err)
	}
	if err := os.Rename(tempPath, p); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checksum file: %w", err)
	}
	return nil
}

// Load reads a record set previously written by Save.
func Load(dir string) (*Store, error) {
	data, err := os.ReadFile(filepath.Join(dir, StoreFileName))
	if err != nil {
		return nil, fmt.Errorf("read checksum records: %w", err)
	}

	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse checksum records: %w", err)
	}

	s := NewStore(dir)
	for _, rec := range recs {
		s.Put(rec)
	}
	return s, nil
}

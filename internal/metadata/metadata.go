// Package metadata correlates the sample sheet a laboratory ships with its
// batch against the files that were actually downloaded.
package metadata

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"

	"github.com/withObsrvr/lab-ingest/internal/config"
)

// Column headers that locate the read files of each sample.
const (
	ColumnR1 = "Sequence file R1 fastq"
	ColumnR2 = "Sequence file R2 fastq"
)

var (
	ErrMetadataNotFound      = errors.New("metadata spreadsheet not found")
	ErrAmbiguousMetadata     = errors.New("more than one metadata spreadsheet")
	ErrUnreadableSheet       = errors.New("metadata spreadsheet unreadable")
	ErrMissingRequiredColumn = errors.New("required column missing")
	ErrMissingMandatoryFile  = errors.New("mandatory R1 file missing")
	ErrFileExistenceMismatch = errors.New("declared files not present in batch")
)

// SampleFiles are the read files declared for one sample. R2 is empty for
// single-end samples.
type SampleFiles struct {
	R1 string
	R2 string
}

// SampleFileSet maps sample identifiers to their declared files.
type SampleFileSet map[string]SampleFiles

// IDs returns the sample identifiers in sorted order.
func (s SampleFileSet) IDs() []string {
	ids := lo.Keys(s)
	sort.Strings(ids)
	return ids
}

// FileNames returns every file named by the set, sorted and deduplicated.
func (s SampleFileSet) FileNames() []string {
	var names []string
	for _, f := range s {
		names = append(names, f.R1)
		if f.R2 != "" {
			names = append(names, f.R2)
		}
	}
	names = lo.Uniq(names)
	sort.Strings(names)
	return names
}

// SampleFor returns the sample whose R1 or R2 is name, if any.
func (s SampleFileSet) SampleFor(name string) (id, read string, ok bool) {
	for _, id := range s.IDs() {
		f := s[id]
		switch name {
		case f.R1:
			return id, "R1", true
		case f.R2:
			return id, "R2", true
		}
	}
	return "", "", false
}

// Sheet is a parsed sample sheet.
type Sheet struct {
	Path       string
	SheetName  string
	Samples    SampleFileSet
	Duplicates []string
}

// LocateSpreadsheet finds the single spreadsheet with extension ext directly
// inside dir. Office lock files (~$name) and hidden files are ignored.
func LocateSpreadsheet(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrMetadataNotFound, dir, err)
	}

	var found []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
			found = append(found, name)
		}
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: no *%s in %s", ErrMetadataNotFound, ext, dir)
	case 1:
		return filepath.Join(dir, found[0]), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousMetadata, strings.Join(found, ", "))
	}
}

// ParseSampleSheet reads the sample sheet at p. The configured sheet is used
// when present, otherwise the first sheet of the workbook.
func ParseSampleSheet(p string, cfg config.MetadataConfig, log *slog.Logger) (*Sheet, error) {
	f, err := excelize.OpenFile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnreadableSheet, p, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no sheets", ErrUnreadableSheet, p)
	}
	sheetName := cfg.Sheet
	if !lo.Contains(sheets, sheetName) {
		log.Warn("configured sheet not found, using first sheet", "sheet", cfg.Sheet, "using", sheets[0])
		sheetName = sheets[0]
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %s: %w", ErrUnreadableSheet, sheetName, err)
	}

	samples, dups, err := ParseRows(rows, cfg.HeaderRow, cfg.SampleIDColumn)
	if err != nil {
		return nil, err
	}
	for _, id := range dups {
		log.Warn("duplicate sample id, later row wins", "sample_id", id)
	}

	return &Sheet{Path: p, SheetName: sheetName, Samples: samples, Duplicates: dups}, nil
}

// ParseRows extracts the sample file set from sheet rows. headerRow is
// 1-based; data starts on the row after it. Rows with an empty sample id are
// skipped. A repeated id overwrites the earlier entry and is returned in
// dups.
func ParseRows(rows [][]string, headerRow int, idColumn string) (SampleFileSet, []string, error) {
	if headerRow < 1 || headerRow > len(rows) {
		return nil, nil, fmt.Errorf("%w: header row %d beyond sheet end (%d rows)", ErrMissingRequiredColumn, headerRow, len(rows))
	}

	header := rows[headerRow-1]
	idIdx := lo.IndexOf(header, idColumn)
	r1Idx := lo.IndexOf(header, ColumnR1)
	r2Idx := lo.IndexOf(header, ColumnR2)

	var missing []string
	for name, idx := range map[string]int{idColumn: idIdx, ColumnR1: r1Idx, ColumnR2: r2Idx} {
		if idx < 0 {
			missing = append(missing, fmt.Sprintf("%q", name))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingRequiredColumn, strings.Join(missing, ", "))
	}

	samples := make(SampleFileSet)
	var dups []string
	for i, row := range rows[headerRow:] {
		id := cell(row, idIdx)
		if id == "" {
			continue
		}

		r1 := fileName(cell(row, r1Idx))
		if r1 == "" {
			return nil, nil, fmt.Errorf("%w: sample %s (row %d)", ErrMissingMandatoryFile, id, headerRow+i+1)
		}

		if _, seen := samples[id]; seen {
			dups = append(dups, id)
		}
		samples[id] = SampleFiles{R1: r1, R2: fileName(cell(row, r2Idx))}
	}
	return samples, dups, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// fileName reduces a declared path to its base name; batches are stored flat.
func fileName(v string) string {
	if v == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(v, "\\", "/"))
}

// CrossCheck verifies that every file named in samples is present.
func CrossCheck(samples SampleFileSet, present func(name string) bool) error {
	missing := lo.Filter(samples.FileNames(), func(name string, _ int) bool {
		return !present(name)
	})
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrFileExistenceMismatch, strings.Join(missing, ", "))
	}
	return nil
}

// Package tables defines the tabular exports written next to accepted batch
// manifests.
package tables

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
)

// FileRow is one local data file of an accepted batch.
type FileRow struct {
	Batch     string `parquet:"batch"`
	DateStamp string `parquet:"date_stamp"`
	FileName  string `parquet:"file_name"`
	SampleID  string `parquet:"sample_id,optional"`
	Read      string `parquet:"read,optional"` // "R1" | "R2"

	Checksum        string `parquet:"md5"`
	ShippedChecksum string `parquet:"shipped_md5,optional"`
	Outcome         string `parquet:"outcome"` // verified | unknown | failed
	ByteSize        int64  `parquet:"byte_size"`

	RunID      string    `parquet:"run_id"`
	IngestedAt time.Time `parquet:"ingested_at,timestamp(millisecond)"`
}

// TableName returns the canonical table name.
func (FileRow) TableName() string {
	return "batch_files"
}

// ParquetConfig configures parquet output generation.
type ParquetConfig struct {
	Compression string // "snappy" | "zstd" | "none"
}

// DefaultParquetConfig returns sensible defaults.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{Compression: "snappy"}
}

func (c ParquetConfig) writerOptions() ([]parquet.WriterOption, error) {
	switch c.Compression {
	case "", "snappy":
		return []parquet.WriterOption{parquet.Compression(&parquet.Snappy)}, nil
	case "zstd":
		return []parquet.WriterOption{parquet.Compression(&parquet.Zstd)}, nil
	case "none":
		return []parquet.WriterOption{parquet.Compression(&parquet.Uncompressed)}, nil
	default:
		return nil, fmt.Errorf("unknown parquet compression %q", c.Compression)
	}
}

// WriteFileLedger writes rows to w as a single parquet file.
func WriteFileLedger(w io.Writer, rows []FileRow, cfg ParquetConfig) error {
	opts, err := cfg.writerOptions()
	if err != nil {
		return err
	}

	pw := parquet.NewGenericWriter[FileRow](w, opts...)
	if _, err := pw.Write(rows); err != nil {
		pw.Close()
		return fmt.Errorf("write ledger rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close ledger writer: %w", err)
	}
	return nil
}

// EncodeFileLedger returns the parquet bytes of rows.
func EncodeFileLedger(rows []FileRow, cfg ParquetConfig) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFileLedger(&buf, rows, cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadFileLedger decodes a ledger produced by WriteFileLedger.
func ReadFileLedger(data []byte) ([]FileRow, error) {
	rows, err := parquet.Read[FileRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return rows, nil
}

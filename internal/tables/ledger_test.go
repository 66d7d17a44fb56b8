package tables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLedgerRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rows := []FileRow{
		{Batch: "LabA", DateStamp: "20260314", FileName: "S1_R1_.fastq.gz", SampleID: "S1", Read: "R1",
			Checksum: "aa", ShippedChecksum: "aa", Outcome: "verified", ByteSize: 10, RunID: "r", IngestedAt: at},
		{Batch: "LabA", DateStamp: "20260314", FileName: "S1_R2_.fastq.gz", SampleID: "S1", Read: "R2",
			Checksum: "bb", Outcome: "unknown", ByteSize: 12, RunID: "r", IngestedAt: at},
	}

	for _, compression := range []string{"snappy", "zstd", "none"} {
		t.Run(compression, func(t *testing.T) {
			data, err := EncodeFileLedger(rows, ParquetConfig{Compression: compression})
			require.NoError(t, err)
			assert.Equal(t, "PAR1", string(data[:4]))

			got, err := ReadFileLedger(data)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "S1_R2_.fastq.gz", got[1].FileName)
			assert.Equal(t, "", got[1].ShippedChecksum)
			assert.EqualValues(t, 10, got[0].ByteSize)
			assert.True(t, got[0].IngestedAt.Equal(at))
		})
	}
}

func TestFileLedgerUnknownCompression(t *testing.T) {
	_, err := EncodeFileLedger(nil, ParquetConfig{Compression: "lz5"})
	assert.Error(t, err)
}

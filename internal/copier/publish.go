package copier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/withObsrvr/lab-ingest/internal/checkpoint"
	"github.com/withObsrvr/lab-ingest/internal/checksum"
	"github.com/withObsrvr/lab-ingest/internal/metadata"
	"github.com/withObsrvr/lab-ingest/internal/remote"
	"github.com/withObsrvr/lab-ingest/internal/storage"
	"github.com/withObsrvr/lab-ingest/internal/tables"
)

// acceptance carries the state of a folder that passed correlation.
type acceptance struct {
	sess        remote.Session
	runID       string
	batch       storage.LocalBatch
	refs        []remote.FileRef
	sheet       *metadata.Sheet
	store       *checksum.Store
	fingerprint string
	log         *slog.Logger
}

// accept publishes an accepted batch.
//
// The order of operations matters:
//  1. Build the manifest from verified records (corrupted samples excluded)
//  2. Write the manifest to the scratch area
//  3. Write the parquet file ledger
//  4. Remove the remote files
//  5. Update the checkpoint
//
// Only a failure in steps 1-2 changes the outcome; later steps log warnings.
func (c *Copier) accept(ctx context.Context, a acceptance, res FolderResult) FolderResult {
	log := a.log
	startTime := time.Now()

	manifest, warnings := c.buildManifest(a, res.Corrupted)
	res.Warnings = append(res.Warnings, warnings...)
	manifest.Warnings = append([]string(nil), res.Warnings...)
	if err := a.store.Save(); err != nil {
		log.Warn("failed to persist checksum records", "error", err)
	}

	key, err := c.scratch.WriteManifest(ctx, manifest)
	if err != nil {
		log.Error("failed to write manifest, batch kept", "error", err)
		res.Outcome, res.Err = Failed, err
		return res
	}
	res.Outcome, res.ManifestKey = Accepted, key

	if c.cfg.Scratch.WriteFileLedger {
		if err := c.writeLedger(ctx, a, manifest.CreatedAt); err != nil {
			log.Warn("failed to write file ledger", "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("file ledger not written: %v", err))
		}
	}

	if c.cfg.Ingest.RemoveRemoteOnAccept {
		if err := removeRemote(a.sess, a.refs); err != nil {
			log.Warn("remote cleanup incomplete", "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("remote cleanup incomplete: %v", err))
		}
	}

	if err := c.checkpoint.Save(ctx, &checkpoint.Checkpoint{
		Folder:      a.batch.Folder,
		Fingerprint: a.fingerprint,
		FileCount:   len(a.refs),
		DateStamp:   a.batch.DateStamp,
		ManifestKey: key,
		RunID:       a.runID,
		AcceptedAt:  manifest.CreatedAt,
	}); err != nil {
		log.Warn("failed to save checkpoint", "error", err)
	}

	log.Info("batch accepted",
		"manifest", c.scratch.URI(key),
		"samples", len(manifest.Samples),
		"warnings", len(res.Warnings),
		"duration", time.Since(startTime).String(),
	)
	return res
}

// buildManifest resolves each sample's files to local paths and checksums.
// Samples referencing a corrupted file, or a file without a passing record
// from this run, are left out with a warning.
func (c *Copier) buildManifest(a acceptance, corrupted []string) (*storage.BatchManifest, []string) {
	var warnings []string
	unusable := func(name string) bool {
		if name == "" {
			return false
		}
		if lo.Contains(corrupted, name) {
			return true
		}
		rec, ok := a.store.Get(name)
		return !ok || rec.Outcome() == checksum.Failed
	}
	m := &storage.BatchManifest{
		RunID:     a.runID,
		Batch:     a.batch.Folder,
		Date:      a.batch.DateStamp,
		LocalPath: a.batch.Path,
		Producer:  fmt.Sprintf("lab-ingest@%s", Version),
		CreatedAt: c.now().UTC(),
	}

	for _, id := range a.sheet.Samples.IDs() {
		files := a.sheet.Samples[id]
		if unusable(files.R1) || unusable(files.R2) {
			warnings = append(warnings, fmt.Sprintf("sample %s excluded: references a corrupted file", id))
			continue
		}

		entry := storage.SampleEntry{
			SampleID: id,
			R1File:   files.R1,
			R1Path:   a.batch.FilePath(files.R1),
			R1MD5:    recordedChecksum(a, files.R1),
		}
		if files.R2 != "" {
			entry.R2File = files.R2
			entry.R2Path = a.batch.FilePath(files.R2)
			entry.R2MD5 = recordedChecksum(a, files.R2)
		}

		if c.cfg.Ingest.CheckGzip {
			for _, name := range []string{files.R1, files.R2} {
				if name == "" {
					continue
				}
				if err := checkGzip(a.batch.FilePath(name)); err != nil {
					a.log.Warn("gzip stream check failed", "file", name, "error", err)
					warnings = append(warnings, fmt.Sprintf("gzip check failed for %s: %v", name, err))
				}
			}
		}

		m.Samples = append(m.Samples, entry)
	}

	return m, warnings
}

// recordedChecksum returns the checksum Verify stored for name.
func recordedChecksum(a acceptance, name string) string {
	rec, _ := a.store.Get(name)
	return rec.Checksum
}

func (c *Copier) writeLedger(ctx context.Context, a acceptance, at time.Time) error {
	var rows []tables.FileRow
	for _, rec := range a.store.Records() {
		row := tables.FileRow{
			Batch:           a.batch.Folder,
			DateStamp:       a.batch.DateStamp,
			FileName:        rec.FileName,
			Checksum:        rec.Checksum,
			ShippedChecksum: rec.Shipped,
			Outcome:         rec.Outcome().String(),
			RunID:           a.runID,
			IngestedAt:      at,
		}
		if id, read, ok := a.sheet.Samples.SampleFor(rec.FileName); ok {
			row.SampleID, row.Read = id, read
		}
		if info, err := os.Stat(rec.LocalPath); err == nil {
			row.ByteSize = info.Size()
		}
		rows = append(rows, row)
	}

	data, err := tables.EncodeFileLedger(rows, tables.DefaultParquetConfig())
	if err != nil {
		return err
	}
	return c.scratch.Put(ctx, storage.LedgerKey(a.batch.Folder, a.batch.DateStamp), data, "application/vnd.apache.parquet")
}

// removeRemote deletes the accepted files from the remote endpoint.
func removeRemote(sess remote.Session, refs []remote.FileRef) error {
	var result *multierror.Error
	for _, ref := range refs {
		if err := sess.Remove(ref.Path); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", ref.Path, err))
		}
	}
	return result.ErrorOrNil()
}

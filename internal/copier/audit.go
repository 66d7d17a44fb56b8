package copier

import (
	"context"
	"os"

	"github.com/withObsrvr/lab-ingest/internal/audit"
	"github.com/withObsrvr/lab-ingest/internal/checksum"
)

// recordDecision emits an audit event for folders that reached a decision.
// Skipped, unchanged and failed folders are left for a later run and are
// not recorded.
func (c *Copier) recordDecision(ctx context.Context, runID string, res FolderResult) {
	switch res.Outcome {
	case Accepted, Rejected, Aborted:
	default:
		return
	}

	evt := &audit.Event{
		Timestamp: c.now().UTC(),
		Batch: audit.BatchInfo{
			Folder:      res.Folder,
			DateStamp:   res.DateStamp,
			RunID:       runID,
			Outcome:     string(res.Outcome),
			ManifestKey: res.ManifestKey,
		},
		Files:    map[string]audit.FileInfo{},
		Producer: audit.ProducerInfo{Name: "lab-ingest", Version: Version, GitSHA: GitSHA},
	}
	if res.Err != nil {
		evt.Batch.Reason = res.Err.Error()
	}

	// Rejected batches are purged, so only their outcome is recorded.
	if store, err := checksum.Load(res.LocalPath); err == nil {
		for _, rec := range store.Records() {
			fi := audit.FileInfo{MD5: rec.Checksum, Status: rec.Outcome().String(), LocalPath: rec.LocalPath}
			if info, err := os.Stat(rec.LocalPath); err == nil {
				fi.ByteSize = info.Size()
			}
			evt.Files[rec.FileName] = fi
		}
	}

	if err := c.audit.Emit(ctx, evt); err != nil {
		c.log.Warn("failed to record batch decision", "folder", res.Folder, "outcome", res.Outcome, "error", err)
	}
}

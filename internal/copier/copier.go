// Package copier drives the ingest of remote laboratory folders: fetch,
// verify, retransmit, correlate and accept or reject each batch.
package copier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/withObsrvr/lab-ingest/internal/audit"
	"github.com/withObsrvr/lab-ingest/internal/checkpoint"
	"github.com/withObsrvr/lab-ingest/internal/checksum"
	"github.com/withObsrvr/lab-ingest/internal/config"
	"github.com/withObsrvr/lab-ingest/internal/logging"
	"github.com/withObsrvr/lab-ingest/internal/metadata"
	"github.com/withObsrvr/lab-ingest/internal/metrics"
	"github.com/withObsrvr/lab-ingest/internal/remote"
	"github.com/withObsrvr/lab-ingest/internal/storage"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Copier resolves every remote folder of one run, strictly one after the
// other, over a single remote session.
type Copier struct {
	cfg        config.Config
	open       remote.Opener
	scratch    *storage.ScratchStore
	checkpoint checkpoint.Manager
	audit      audit.Emitter
	fetcher    *Fetcher
	allow      func(name string) bool
	now        func() time.Time
	log        *slog.Logger
}

// New creates a Copier. open establishes the remote session for each run;
// scratch receives the manifests of accepted batches.
func New(cfg config.Config, open remote.Opener, scratch *storage.ScratchStore) *Copier {
	log := logging.Component("copier")

	cpMgr, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		log.Warn("failed to create checkpoint manager, continuing without", "error", err)
		cpMgr, _ = checkpoint.NewManager(checkpoint.Config{})
	}

	exts := remote.ExtensionFilter(cfg.Ingest.AllowedExtensions)
	manifestNames := cfg.Ingest.ChecksumManifestNames

	return &Copier{
		cfg:        cfg,
		open:       open,
		scratch:    scratch,
		checkpoint: cpMgr,
		audit:      audit.NewEmitter(cfg.Audit),
		fetcher:    NewFetcher(log),
		allow: func(name string) bool {
			return exts.Allows(name) || checksum.IsManifestName(name, manifestNames)
		},
		now: time.Now,
		log: log,
	}
}

// Run performs one pass over the remote root. Only a failure to connect or
// to list the root is returned as an error; every folder-level failure is
// recorded in the report and the run moves on to the next folder.
func (c *Copier) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:     logging.GenerateCorrelationID(),
		StartedAt: c.now().UTC(),
	}
	log := c.log.With("run_id", report.RunID)
	m := metrics.Get()

	sess, err := c.open(ctx)
	if err != nil {
		if m != nil {
			m.IncRemoteErrors("connect")
		}
		return report, fmt.Errorf("open remote session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("failed to close remote session", "error", err)
		}
	}()

	folders, err := remote.ListFolders(sess)
	if err != nil {
		if m != nil {
			m.IncRemoteErrors("list_root")
		}
		return report, fmt.Errorf("list remote root: %w", err)
	}
	log.Info("starting run", "folders", len(folders))

	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			log.Warn("run cancelled", "remaining_folders", len(folders)-len(report.Folders))
			return report, err
		}

		res := c.processFolder(ctx, sess, report.RunID, folder)
		report.Folders = append(report.Folders, res)
		c.recordDecision(ctx, report.RunID, res)
		if m != nil {
			m.ObserveFolder(string(res.Outcome), res.Duration)
		}
	}

	report.FinishedAt = c.now().UTC()
	if m != nil {
		m.SetLastRun(report.FinishedAt)
	}
	log.Info("run complete",
		"folders", len(report.Folders),
		"accepted", report.Count(Accepted),
		"rejected", report.Count(Rejected),
		"aborted", report.Count(Aborted),
		"failed", report.Count(Failed),
		"skipped", report.Count(Skipped)+report.Count(Unchanged),
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

// processFolder runs Discover, Fetch, Verify, Retransmit, Correlate and
// Decide for one folder.
func (c *Copier) processFolder(ctx context.Context, sess remote.Session, runID, folder string) (res FolderResult) {
	start := time.Now()
	batch := storage.NewLocalBatch(c.cfg.Storage.Root, folder, c.now())
	log := logging.BatchLogger(c.log, runID, folder, batch.DateStamp)
	m := metrics.Get()

	res = FolderResult{Folder: folder, DateStamp: batch.DateStamp, LocalPath: batch.Path}
	defer func() { res.Duration = time.Since(start) }()

	// Discover
	refs, err := remote.ListFiles(sess, folder, c.allow)
	if err != nil {
		log.Error("cannot list folder", "error", err)
		res.Outcome, res.Err = Failed, err
		return res
	}
	res.FilesListed = len(refs)
	if len(refs) == 0 {
		log.Debug("no transferable files, skipping")
		res.Outcome = Skipped
		return res
	}

	fingerprint := checkpoint.Fingerprint(refs)
	if cp, err := c.checkpoint.Load(ctx, folder); err == nil && cp.Fingerprint == fingerprint {
		log.Info("remote listing unchanged since last accepted batch", "accepted_at", cp.AcceptedAt, "manifest", cp.ManifestKey)
		res.Outcome = Unchanged
		return res
	} else if err != nil && !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		log.Warn("failed to load checkpoint", "error", err)
	}

	// Fetch
	if batch.Exists() {
		log.Info("reusing local batch from an earlier run today", "path", batch.Path)
	}
	if err := batch.Ensure(); err != nil {
		log.Error("cannot create local batch", "error", err)
		res.Outcome, res.Err = Failed, err
		return res
	}
	fetched := c.fetcher.Fetch(ctx, sess, batch, refs)
	res.FilesFetched = len(fetched.Fetched)
	res.FetchErrors = fetched.Failed
	if m != nil {
		m.AddFetched(len(fetched.Fetched), fetched.Bytes)
		m.AddFetchFailures(len(fetched.Failed))
	}
	log.Info("fetched folder",
		"files", len(fetched.Fetched),
		"failed", len(fetched.Failed),
		"size", units.HumanSize(float64(fetched.Bytes)),
	)
	if err := ctx.Err(); err != nil {
		return cancelled(res, err, log)
	}
	if missing := failedManifests(fetched.Failed, c.cfg.Ingest.ChecksumManifestNames); len(missing) > 0 {
		res.Err = fmt.Errorf("%w: %s", ErrManifestFetch, strings.Join(missing, ", "))
		log.Error("checksum manifest unavailable, batch kept for the next run", "error", res.Err)
		res.Outcome = Failed
		return res
	}

	// Verify
	data, manifests := splitManifests(fetched.Fetched, c.cfg.Ingest.ChecksumManifestNames)
	shipped, warnings, err := checksum.LoadShipped(batch.Path, manifests)
	res.Warnings = append(res.Warnings, warnings...)
	if err != nil {
		log.Error("cannot load checksum manifest", "error", err)
		res.Outcome, res.Err = Failed, err
		return res
	}
	if extra := unmatchedShipped(shipped, data); len(extra) > 0 {
		log.Debug("shipped checksums without a fetched file", "files", extra)
	}

	store := checksum.NewStore(batch.Path)
	verify := Verify(store, data, shipped, log)
	res.Warnings = append(res.Warnings, verify.Warnings...)
	log.Info("verified checksums",
		"verified", len(verify.Verified),
		"unknown", len(verify.Unknown),
		"failed", len(verify.Failed),
		"manifests", len(manifests),
	)

	// Retransmit
	if !verify.Passed() {
		res.Retransmitted = verify.Failed
		res.Corrupted = c.retransmit(ctx, sess, batch, refs, verify.Failed, store, shipped, log)
	}
	if err := store.Save(); err != nil {
		log.Warn("failed to persist checksum records", "error", err)
	}
	if err := ctx.Err(); err != nil {
		return cancelled(res, err, log)
	}

	if len(res.Corrupted) > 0 {
		if m != nil {
			m.AddCorrupted(len(res.Corrupted))
		}
		if c.cfg.Ingest.AbortIfMD5Mismatch {
			res.Err = fmt.Errorf("%w: %s", ErrCorruptedAbort, strings.Join(res.Corrupted, ", "))
			log.Error("aborting folder, batch kept for the next run", "error", res.Err)
			res.Outcome = Aborted
			return res
		}
		for _, name := range res.Corrupted {
			log.Warn("continuing without corrupted file", "error", fmt.Errorf("%w: %s", ErrCorruptedFile, name))
			res.Warnings = append(res.Warnings, fmt.Sprintf("corrupted file: %s", name))
		}
	}

	// Correlate
	sheetPath, err := metadata.LocateSpreadsheet(batch.Path, c.cfg.Metadata.Extension)
	if err != nil {
		log.Error("metadata spreadsheet unavailable, batch kept", "error", err)
		res.Outcome, res.Err = Failed, err
		return res
	}
	sheet, err := metadata.ParseSampleSheet(sheetPath, c.cfg.Metadata, log)
	if err != nil {
		return c.reject(ctx, batch, res, err, log)
	}
	for _, id := range sheet.Duplicates {
		res.Warnings = append(res.Warnings, fmt.Sprintf("duplicate sample id %s, later row used", id))
	}
	// Only copies made in this run count. A file left by an earlier run was
	// verified against that run's transfer, not this one.
	current := make(map[string]bool, len(fetched.Fetched))
	for _, name := range fetched.Fetched {
		current[name] = true
	}
	present := func(name string) bool { return current[name] && batch.IsRegularFile(name) }
	if err := metadata.CrossCheck(sheet.Samples, present); err != nil {
		return c.reject(ctx, batch, res, err, log)
	}

	// Accept
	return c.accept(ctx, acceptance{
		sess:        sess,
		runID:       runID,
		batch:       batch,
		refs:        refs,
		sheet:       sheet,
		store:       store,
		fingerprint: fingerprint,
		log:         log,
	}, res)
}

// retransmit fetches the failed files once more and verifies only the new
// copies. Files still failing are returned as corrupted.
func (c *Copier) retransmit(ctx context.Context, sess remote.Session, batch storage.LocalBatch, refs []remote.FileRef, failed []string, store *checksum.Store, shipped map[string]string, log *slog.Logger) []string {
	// The first fetch kept the last ref of each base name; retransmit that one.
	wanted := make(map[string]remote.FileRef, len(failed))
	for _, name := range failed {
		wanted[name] = remote.FileRef{}
	}
	for _, ref := range refs {
		prev, ok := wanted[ref.Name()]
		if !ok {
			continue
		}
		if prev.Path != "" {
			log.Warn("duplicate file name in folder, retransmitting later copy", "file", ref.Name(), "previous", prev.Path, "path", ref.Path)
		}
		wanted[ref.Name()] = ref
	}

	again := make([]remote.FileRef, 0, len(failed))
	for _, name := range failed {
		if ref := wanted[name]; ref.Path != "" {
			again = append(again, ref)
		}
	}

	log.Info("retransmitting files", "files", failed)
	if m := metrics.Get(); m != nil {
		m.AddRetransmissions(len(again))
	}

	fetched := c.fetcher.Fetch(ctx, sess, batch, again)
	if err := fetched.Err(); err != nil {
		log.Warn("retransmission fetch failed, keeping first copy", "error", err)
	}

	verify := Verify(store, failed, shipped, log)
	return verify.Failed
}

// reject purges the local batch and any correlation output an earlier run
// of the same day left in the scratch area. Deletion errors are logged only.
func (c *Copier) reject(ctx context.Context, batch storage.LocalBatch, res FolderResult, reason error, log *slog.Logger) FolderResult {
	log.Error("batch rejected, purging local folder", "error", reason)
	if err := batch.Purge(); err != nil {
		log.Warn("purge incomplete", "error", err)
	}
	for _, key := range []string{
		storage.ManifestKey(batch.Folder, batch.DateStamp),
		storage.LedgerKey(batch.Folder, batch.DateStamp),
	} {
		if err := c.scratch.Delete(ctx, key); err != nil {
			log.Warn("failed to remove stale scratch output", "key", key, "error", err)
		}
	}
	res.Outcome, res.Err = Rejected, reason
	return res
}

// cancelled stops a folder whose run context ended. The batch is kept.
func cancelled(res FolderResult, err error, log *slog.Logger) FolderResult {
	log.Warn("run cancelled, batch kept for the next run", "error", err)
	res.Outcome, res.Err = Failed, err
	return res
}

// Close releases the audit emitter.
func (c *Copier) Close() error {
	return c.audit.Close()
}

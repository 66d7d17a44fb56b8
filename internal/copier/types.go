package copier

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/withObsrvr/lab-ingest/internal/remote"
)

var (
	// ErrChecksumMismatch marks a file whose computed checksum disagrees with
	// the shipped one.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrCorruptedFile marks a file still mismatching after retransmission.
	ErrCorruptedFile = errors.New("corrupted file")

	// ErrCorruptedAbort is the folder error when corrupted files trip the
	// abort policy.
	ErrCorruptedAbort = errors.New("corrupted files after retransmission, folder aborted")

	// ErrManifestFetch marks a listed checksum manifest that could not be
	// copied. Verifying without it would treat every file as unknown.
	ErrManifestFetch = errors.New("checksum manifest not fetched")
)

// Outcome is the terminal state of one folder in one run.
type Outcome string

const (
	Skipped   Outcome = "skipped"   // no transferable remote files
	Unchanged Outcome = "unchanged" // listing identical to the last accepted batch
	Accepted  Outcome = "accepted"
	Rejected  Outcome = "rejected" // local batch purged
	Aborted   Outcome = "aborted"  // corrupted files under the abort policy; batch kept
	Failed    Outcome = "failed"   // folder-level error; batch kept if it was created
)

// FileFetchError records one remote file that could not be copied.
type FileFetchError struct {
	Ref remote.FileRef
	Err error
}

func (e *FileFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Ref.Path, e.Err)
}

func (e *FileFetchError) Unwrap() error { return e.Err }

// FetchResult is the outcome of copying a set of remote files into a batch.
type FetchResult struct {
	Fetched []string // base names, in listing order
	Failed  []*FileFetchError
	Bytes   int64
}

// Err aggregates the per-file failures, or returns nil.
func (r FetchResult) Err() error {
	var result *multierror.Error
	for _, f := range r.Failed {
		result = multierror.Append(result, f)
	}
	return result.ErrorOrNil()
}

// FolderResult describes how one remote folder was resolved.
type FolderResult struct {
	Folder      string
	DateStamp   string
	LocalPath   string
	Outcome     Outcome
	ManifestKey string

	FilesListed   int
	FilesFetched  int
	FetchErrors   []*FileFetchError
	Retransmitted []string
	Corrupted     []string
	Warnings      []string

	Err      error
	Duration time.Duration
}

// RunReport summarises one pass over the remote root.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Folders    []FolderResult
}

// Count returns the number of folders that ended in outcome.
func (r *RunReport) Count(outcome Outcome) int {
	n := 0
	for _, f := range r.Folders {
		if f.Outcome == outcome {
			n++
		}
	}
	return n
}

// Folder returns the result for a folder name.
func (r *RunReport) Folder(name string) (FolderResult, bool) {
	for _, f := range r.Folders {
		if f.Folder == name {
			return f, true
		}
	}
	return FolderResult{}, false
}

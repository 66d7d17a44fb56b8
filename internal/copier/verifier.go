package copier

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/withObsrvr/lab-ingest/internal/checksum"
)

// VerifyResult contains the outcome of checksum verification.
type VerifyResult struct {
	Verified []string // computed checksum equals the shipped one
	Unknown  []string // no shipped checksum; accepted once computed
	Failed   []string // needs retransmission
	Warnings []string
}

// Passed reports whether no file needs retransmission.
func (r VerifyResult) Passed() bool {
	return len(r.Failed) == 0
}

// Verify hashes each named file of the store's batch directory, records it
// in store and classifies it against shipped. Only files with a shipped
// checksum can fail.
func Verify(store *checksum.Store, names []string, shipped map[string]string, log *slog.Logger) VerifyResult {
	var result VerifyResult

	for _, name := range names {
		p := filepath.Join(store.Dir(), name)
		sum, err := checksum.File(p)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("cannot hash %s: %v", name, err))
			log.Warn("cannot hash local file", "file", name, "error", err)
		}

		rec := checksum.Record{FileName: name, LocalPath: p, Checksum: sum, Shipped: shipped[name]}
		store.Put(rec)

		switch rec.Outcome() {
		case checksum.Verified:
			result.Verified = append(result.Verified, name)
		case checksum.Failed:
			result.Failed = append(result.Failed, name)
			log.Debug("checksum mismatch", "error", fmt.Errorf("%w: %s", ErrChecksumMismatch, name),
				"expected", rec.Shipped, "computed", rec.Checksum)
		default:
			result.Unknown = append(result.Unknown, name)
		}
	}

	return result
}

// splitManifests separates shipped checksum manifests from data files.
func splitManifests(names []string, manifestNames []string) (data, manifests []string) {
	for _, n := range names {
		if checksum.IsManifestName(n, manifestNames) {
			manifests = append(manifests, n)
		} else {
			data = append(data, n)
		}
	}
	return data, manifests
}

// unmatchedShipped lists shipped entries that name no fetched file.
func unmatchedShipped(shipped map[string]string, data []string) []string {
	return lo.Without(lo.Keys(shipped), data...)
}

// failedManifests lists the checksum manifests among failed fetches.
func failedManifests(failed []*FileFetchError, manifestNames []string) []string {
	var names []string
	for _, f := range failed {
		if checksum.IsManifestName(f.Ref.Name(), manifestNames) {
			names = append(names, f.Ref.Path)
		}
	}
	return names
}

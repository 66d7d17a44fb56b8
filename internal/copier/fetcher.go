package copier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/go-units"

	"github.com/withObsrvr/lab-ingest/internal/remote"
	"github.com/withObsrvr/lab-ingest/internal/storage"
)

// Fetcher copies remote files into a local batch, one at a time.
type Fetcher struct {
	log *slog.Logger
}

func NewFetcher(log *slog.Logger) *Fetcher {
	return &Fetcher{log: log}
}

// Fetch copies refs into batch, keeping only base names. A file that cannot
// be copied is recorded in Failed and the next file is attempted. When two
// refs share a base name the later copy replaces the earlier one. Remaining
// files are marked failed once ctx is cancelled; a copy in progress is not
// interrupted.
func (f *Fetcher) Fetch(ctx context.Context, sess remote.Session, batch storage.LocalBatch, refs []remote.FileRef) FetchResult {
	var res FetchResult
	seen := make(map[string]string, len(refs))

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, &FileFetchError{Ref: ref, Err: err})
			continue
		}

		name := ref.Name()
		if prev, dup := seen[name]; dup {
			f.log.Warn("duplicate file name in folder, later copy wins", "file", name, "previous", prev, "path", ref.Path)
		}

		n, err := f.fetchOne(sess, batch, ref)
		if err != nil {
			f.log.Warn("file fetch failed", "path", ref.Path, "error", err)
			res.Failed = append(res.Failed, &FileFetchError{Ref: ref, Err: err})
			continue
		}

		if _, dup := seen[name]; !dup {
			res.Fetched = append(res.Fetched, name)
		}
		seen[name] = ref.Path
		res.Bytes += n
		f.log.Debug("fetched file", "path", ref.Path, "size", units.HumanSize(float64(n)))
	}

	return res
}

func (f *Fetcher) fetchOne(sess remote.Session, batch storage.LocalBatch, ref remote.FileRef) (int64, error) {
	rc, err := sess.Open(ref.Path)
	if err != nil {
		return 0, fmt.Errorf("open remote file: %w", err)
	}
	defer rc.Close()

	return batch.WriteFile(ref.Name(), rc)
}

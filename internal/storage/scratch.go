package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // gs:// scratch areas
	_ "gocloud.dev/blob/memblob" // mem:// scratch areas
	_ "gocloud.dev/blob/s3blob"  // s3:// scratch areas (also B2, R2, MinIO)
	"gocloud.dev/gcerrors"
)

// ScratchStore holds per-batch correlation outputs: JSON manifests and
// file ledgers. It is backed by any gocloud.dev bucket URL; a plain path is
// treated as a local directory.
type ScratchStore struct {
	bucket *blob.Bucket
	base   string
}

// OpenScratch opens the scratch area named by rawURL.
func OpenScratch(ctx context.Context, rawURL string) (*ScratchStore, error) {
	if !strings.Contains(rawURL, "://") {
		dir, err := filepath.Abs(rawURL)
		if err != nil {
			return nil, fmt.Errorf("resolve scratch directory %s: %w", rawURL, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create scratch directory %s: %w", dir, err)
		}
		bucket, err := fileblob.OpenBucket(dir, nil)
		if err != nil {
			return nil, fmt.Errorf("open scratch directory %s: %w", dir, err)
		}
		return &ScratchStore{bucket: bucket, base: "file://" + filepath.ToSlash(dir)}, nil
	}

	bucket, err := blob.OpenBucket(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("open scratch bucket %s: %w", rawURL, err)
	}
	base := rawURL
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	return &ScratchStore{bucket: bucket, base: strings.TrimSuffix(base, "/")}, nil
}

// Put writes data under key, replacing any previous object. Readers never
// observe a partially written object.
func (s *ScratchStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Get reads the object stored under key.
func (s *ScratchStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("read %s: %w", key, os.ErrNotExist)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *ScratchStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Delete removes key. A missing key is not an error.
func (s *ScratchStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URI returns the canonical URI for the given key.
func (s *ScratchStore) URI(key string) string {
	return s.base + "/" + key
}

// Close releases the bucket connection.
func (s *ScratchStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

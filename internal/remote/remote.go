// Package remote wraps the file-transfer endpoint laboratories upload to.
//
// All listing, fetch and delete calls go through a Session. A Session is
// owned by exactly one caller for its lifetime and is not safe for
// concurrent use.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/withObsrvr/lab-ingest/internal/config"
	"github.com/withObsrvr/lab-ingest/internal/logging"
)

// Session is an authenticated connection to the remote endpoint. Paths are
// slash separated and relative to the configured remote root.
type Session interface {
	ReadDir(dir string) ([]fs.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
	Remove(name string) error

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Opener establishes a new Session.
type Opener func(ctx context.Context) (Session, error)

// FileRef points at one file on the remote endpoint. It is only meaningful
// for the session it was listed from.
type FileRef struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Name returns the base file name.
func (r FileRef) Name() string {
	return path.Base(r.Path)
}

// ConnectKind classifies connection failures.
type ConnectKind int

const (
	Unreachable ConnectKind = iota
	AuthFailure
)

func (k ConnectKind) String() string {
	switch k {
	case AuthFailure:
		return "auth failure"
	default:
		return "unreachable"
	}
}

var (
	ErrAuthFailure     = errors.New("authentication failed")
	ErrUnreachable     = errors.New("endpoint unreachable")
	ErrUnknownProtocol = errors.New("unknown remote protocol")
)

// ConnectError is returned when a Session cannot be established.
type ConnectError struct {
	Kind ConnectKind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is lets callers match on ErrAuthFailure / ErrUnreachable.
func (e *ConnectError) Is(target error) bool {
	switch target {
	case ErrAuthFailure:
		return e.Kind == AuthFailure
	case ErrUnreachable:
		return e.Kind == Unreachable
	}
	return false
}

// NewOpener returns an Opener for the configured protocol. Unreachable
// endpoints are retried with exponential backoff up to ConnectAttempts
// times; authentication failures are returned immediately.
func NewOpener(cfg config.RemoteConfig) Opener {
	log := logging.Component("remote").With("protocol", cfg.Protocol)

	return func(ctx context.Context) (Session, error) {
		switch cfg.Protocol {
		case "local":
			return OpenLocal(cfg.Root)
		case "sftp":
			return openWithRetry(ctx, cfg, log)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, cfg.Protocol)
		}
	}
}

func openWithRetry(ctx context.Context, cfg config.RemoteConfig, log *slog.Logger) (Session, error) {
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var sess Session
	attempt := 0
	op := func() error {
		attempt++
		s, err := dialSFTP(ctx, cfg)
		if err != nil {
			if errors.Is(err, ErrAuthFailure) {
				return backoff.Permanent(err)
			}
			log.Warn("connect attempt failed", "attempt", attempt, "max_attempts", attempts, "error", err)
			return err
		}
		sess = s
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}

	log.Info("connected", "host", cfg.Host, "port", cfg.Port, "attempts", attempt)
	return sess, nil
}

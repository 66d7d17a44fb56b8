package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/lab-ingest/internal/config"
	"github.com/withObsrvr/lab-ingest/internal/logging"
)

// Emitter records batch decisions.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter creates an emitter for cfg. A disabled config, or one whose
// directory cannot be prepared, yields an emitter that discards events.
func NewEmitter(cfg config.AuditConfig) Emitter {
	log := logging.Component("audit")
	if !cfg.Enabled {
		log.Debug("disabled, using no-op emitter")
		return noopEmitter{}
	}

	e, err := newChainEmitter(cfg.Dir, log)
	if err != nil {
		log.Warn("failed to create audit emitter, using no-op", "error", err)
		return noopEmitter{}
	}
	if cfg.Endpoint != "" {
		e.http = NewHTTPSink(cfg.Endpoint)
		log.Info("using HTTP audit sink", "endpoint", cfg.Endpoint, "dir", cfg.Dir)
	} else {
		log.Info("using file-only audit", "dir", cfg.Dir)
	}
	return e
}

// chainEmitter links events per folder, keeps a file copy of each and
// optionally posts them to an HTTP sink.
type chainEmitter struct {
	tracker *ChainTracker
	backup  *FileBackup
	http    *HTTPSink
	now     func() time.Time
	log     *slog.Logger
}

func newChainEmitter(dir string, log *slog.Logger) (*chainEmitter, error) {
	tracker, err := NewChainTracker(dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	backup, err := NewFileBackup(dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}
	return &chainEmitter{tracker: tracker, backup: backup, now: time.Now, log: log}, nil
}

// Emit records evt.
//
// The order of operations matters:
//  1. Look up the chain head of the folder
//  2. Stamp the event and compute its hash
//  3. Save the file copy (the only copy when no sink is configured)
//  4. POST to the sink with retries
//  5. Advance the chain head
//
// The head only moves once the event has been stored by its primary sink.
func (e *chainEmitter) Emit(ctx context.Context, evt *Event) error {
	key := evt.Batch.ChainKey()

	prev, err := e.tracker.Head(key)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.Version = EventVersion
	evt.EventType = EventType
	evt.EventID = uuid.NewString()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now().UTC()
	}
	evt.SetChainHashes(prev)

	if err := e.backup.Save(evt); err != nil {
		if e.http == nil {
			return err
		}
		e.log.Warn("audit file copy failed", "error", err)
	}

	if e.http != nil {
		if err := e.http.Post(ctx, evt); err != nil {
			return fmt.Errorf("post audit event: %w", err)
		}
	}

	if err := e.tracker.SetHead(key, evt.Chain.EventHash); err != nil {
		e.log.Warn("failed to update chain head", "chain", key, "error", err)
	}

	e.log.Debug("audit event recorded",
		"chain", key,
		"outcome", evt.Batch.Outcome,
		"prev_hash", prev,
		"event_hash", evt.Chain.EventHash,
	)
	return nil
}

func (e *chainEmitter) Close() error { return nil }

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *Event) error { return nil }
func (noopEmitter) Close() error                       { return nil }

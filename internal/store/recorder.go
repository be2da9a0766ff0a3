package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoMirror is returned by Backfill when no mirror is configured.
var ErrNoMirror = errors.New("no mirror configured")

// Result describes one Record call.
type Result struct {
	Record  Record
	Written bool
	// MirrorErr is the remote PersistenceError, if the mirror write failed.
	// The journal line stands regardless.
	MirrorErr error
}

// Recorder dual-writes detection records: journal first, then mirror.
type Recorder struct {
	journal *Journal
	mirror  Mirror
}

// NewRecorder returns a recorder. mirror may be nil to run journal-only.
func NewRecorder(journal *Journal, mirror Mirror) *Recorder {
	return &Recorder{journal: journal, mirror: mirror}
}

// Journal returns the local journal.
func (r *Recorder) Journal() *Journal { return r.journal }

// Mirror returns the configured mirror, or nil.
func (r *Recorder) Mirror() Mirror { return r.mirror }

// Record persists one classification. NONE is a no-op. A journal failure is
// returned as a local PersistenceError and the mirror is not attempted; a
// mirror failure is logged and reported in Result only.
func (r *Recorder) Record(ctx context.Context, ts time.Time, status Status, artifact string) (Result, error) {
	rec := NewRecord(ts, status, artifact)
	res := Result{Record: rec}
	if status == StatusNone {
		return res, nil
	}

	if err := r.journal.Append(rec); err != nil {
		return res, err
	}
	res.Written = true

	if r.mirror == nil {
		return res, nil
	}
	if err := r.mirror.Insert(ctx, rec); err != nil {
		res.MirrorErr = &PersistenceError{Remote: true, Op: r.mirror.Name() + " insert", Err: err}
		slog.Warn("detection mirror write failed",
			"mirror", r.mirror.Name(),
			"status", status,
			"error", err,
		)
	}
	return res, nil
}

// Backfill replays every journal record into the mirror and returns the
// number replayed. Records already mirrored are left untouched.
func (r *Recorder) Backfill(ctx context.Context) (int, error) {
	if r.mirror == nil {
		return 0, ErrNoMirror
	}
	records, err := r.journal.Records()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if rec.Status == StatusNone {
			continue
		}
		if err := r.mirror.Insert(ctx, rec); err != nil {
			return n, fmt.Errorf("backfill %s: %w", rec.Line(), err)
		}
		n++
	}
	slog.Info("backfill complete", "mirror", r.mirror.Name(), "records", n)
	return n, nil
}

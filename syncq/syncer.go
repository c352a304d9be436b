// Package syncq drains the offline draft queue against the backend
// submission endpoint, one draft at a time, and reports per-item and
// aggregate outcomes.
package syncq

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/fieldops/draftsync/draftstore"
)

// Phase of an item lifecycle event.
type Phase string

const (
	PhaseStart     Phase = "start"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
)

// ItemEvent is emitted once per phase per draft, in snapshot order.
type ItemEvent struct {
	Phase   Phase  `json:"phase"`
	DraftID string `json:"draft_id"`
	Err     error  `json:"-"`
}

// Result aggregates one sync run. Success + Failed == Total always holds.
type Result struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Submitter delivers one draft to the backend. Implementations must be safe
// to call sequentially; the orchestrator never calls Submit concurrently.
type Submitter interface {
	Submit(ctx context.Context, draft *draftstore.DraftRecord) error
}

// ErrSyncInFlight is returned when Sync is called while a run is already
// draining the queue. The orchestrator is deliberately non-reentrant so two
// runs can never submit and delete the same draft twice.
var ErrSyncInFlight = errors.New("syncq: sync already in flight")

// Options configures a Syncer.
type Options struct {
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Syncer drains queued drafts. One instance per store; concurrent Sync
// calls are rejected, everything else is safe for concurrent use.
type Syncer struct {
	store     *draftstore.Store
	submitter Submitter
	opts      Options
	running   atomic.Bool
}

// New creates a Syncer.
func New(store *draftstore.Store, submitter Submitter, opts Options) *Syncer {
	opts.defaults()
	return &Syncer{store: store, submitter: submitter, opts: opts}
}

// Running reports whether a run is currently in flight.
func (s *Syncer) Running() bool { return s.running.Load() }

// Sync drains a snapshot of the queue taken at invocation time. Drafts
// queued after the snapshot wait for the next run.
//
// Each draft is processed strictly sequentially: a start event, the
// submission, then either completed (draft removed from the store) or error
// (draft left byte-for-byte untouched, run continues). The aggregate result
// is returned only after every item's terminal event has been emitted.
//
// A draft is marked submitted before its local delete, so a crash between
// backend confirmation and the delete is recovered by next run's sweep
// instead of producing a duplicate submission. The submission itself remains
// at-least-once: the stable draft id travels as an idempotency key for the
// backend to deduplicate on.
//
// Sync returns an error only when no item work could start at all: a second
// concurrent invocation (ErrSyncInFlight) or a failed queue snapshot.
func (s *Syncer) Sync(ctx context.Context, onItem func(ItemEvent)) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInFlight
	}
	defer s.running.Store(false)

	log := s.opts.Logger

	// Recover any draft confirmed by the backend on a previous run whose
	// local delete never landed.
	if _, err := s.store.SweepSubmitted(ctx); err != nil {
		log.Warn("syncq: submitted-draft sweep failed", "error", err)
	}

	snapshot, err := s.store.ListQueued(ctx)
	if err != nil {
		return Result{}, err
	}

	emit := func(ev ItemEvent) {
		if onItem != nil {
			onItem(ev)
		}
	}

	var res Result
	for i := range snapshot {
		draft := &snapshot[i]
		emit(ItemEvent{Phase: PhaseStart, DraftID: draft.ID})

		if err := s.submitter.Submit(ctx, draft); err != nil {
			res.Failed++
			log.Warn("syncq: submission failed",
				"draft_id", draft.ID, "template_id", draft.TemplateID, "error", err)
			emit(ItemEvent{Phase: PhaseError, DraftID: draft.ID, Err: err})
			continue
		}

		// Backend accepted the draft: it counts as success no matter what
		// the local cleanup below does.
		if err := s.store.MarkSubmitted(ctx, draft.ID); err != nil {
			log.Error("syncq: mark-submitted failed, draft may resubmit",
				"draft_id", draft.ID, "error", err)
		} else if err := s.store.Delete(ctx, draft.ID); err != nil {
			log.Error("syncq: delete after submit failed, sweep will retry",
				"draft_id", draft.ID, "error", err)
		}

		res.Success++
		emit(ItemEvent{Phase: PhaseCompleted, DraftID: draft.ID})
	}

	res.Total = res.Success + res.Failed
	log.Info("syncq: run complete",
		"total", res.Total, "success", res.Success, "failed", res.Failed)
	return res, nil
}

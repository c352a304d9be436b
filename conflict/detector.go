// Package conflict estimates how many queued drafts were authored against a
// template that has since changed version. The estimate is a lower bound by
// design: the scan is capped, resolver failures degrade to under-counting,
// and the detector never propagates an error to its caller — a conflict
// badge is advisory, not an audit.
package conflict

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fieldops/draftsync/draftstore"
	"github.com/fieldops/draftsync/template"
)

// DefaultMaxScan bounds how many drafts one Scan inspects. Template
// resolution is a network call per unresolved draft, and the scan runs on
// every widget mount; 25 keeps worst-case latency near one screenful.
const DefaultMaxScan = 25

// DefaultBaselineVersion is the version an unresolved draft is assumed to
// have been authored against.
const DefaultBaselineVersion = 1

// Options configures a Detector.
type Options struct {
	// MaxScan caps drafts inspected per Scan. Default: DefaultMaxScan.
	MaxScan int
	// BaselineVersion is compared against the current template version for
	// drafts with no recorded version. Default: DefaultBaselineVersion.
	BaselineVersion int64
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxScan <= 0 {
		o.MaxScan = DefaultMaxScan
	}
	if o.BaselineVersion <= 0 {
		o.BaselineVersion = DefaultBaselineVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Report summarises one detector pass over the inspected subset.
type Report struct {
	// Scanned is how many drafts were inspected (capped at MaxScan).
	Scanned int `json:"scanned"`
	// Conflicts is the stale-draft estimate for the inspected subset.
	Conflicts int `json:"conflicts"`
	// Cleaned is how many mock-template drafts were deleted in passing.
	Cleaned int `json:"cleaned"`
	// Truncated is true when the queue exceeded MaxScan, i.e. Conflicts is
	// a lower bound, not exhaustive.
	Truncated bool `json:"truncated"`
}

// Detector scans the queue for stale drafts.
type Detector struct {
	store *draftstore.Store
	tpl   *template.Client
	opts  Options
}

// New creates a Detector.
func New(store *draftstore.Store, tpl *template.Client, opts Options) *Detector {
	opts.defaults()
	return &Detector{store: store, tpl: tpl, opts: opts}
}

// Scan inspects up to MaxScan queued drafts in key order and returns the
// conflict estimate. It never fails: any storage or resolver error shrinks
// the estimate instead of surfacing.
//
// Per draft:
//   - mock-template drafts are deleted on the spot and never counted;
//   - a recorded template version is trusted without a network call (it was
//     resolved at authoring time and is not re-checked until the draft is
//     next touched);
//   - an absent version triggers a cached resolver call, counting a
//     conflict when the current version is above the baseline. A deleted
//     template (404) is not a conflict; a transient failure is skipped.
func (d *Detector) Scan(ctx context.Context) Report {
	log := d.opts.Logger
	var rep Report

	keys, err := d.store.Keys(ctx)
	if err != nil {
		log.Warn("conflict: queue enumeration failed", "error", err)
		return rep
	}
	if len(keys) > d.opts.MaxScan {
		keys = keys[:d.opts.MaxScan]
		rep.Truncated = true
	}

	for _, id := range keys {
		rec, err := d.store.Get(ctx, id)
		if err != nil {
			log.Warn("conflict: draft read failed", "draft_id", id, "error", err)
			continue
		}
		if rec == nil {
			continue // deleted between enumeration and read
		}
		rep.Scanned++

		if d.tpl.IsMock(rec.TemplateID) {
			if err := d.store.Delete(ctx, rec.ID); err != nil {
				log.Warn("conflict: mock draft cleanup failed", "draft_id", rec.ID, "error", err)
				continue
			}
			log.Info("conflict: cleaned mock draft", "draft_id", rec.ID, "template_id", rec.TemplateID)
			rep.Cleaned++
			continue
		}

		if rec.TemplateVersion != nil {
			continue
		}

		current, err := d.tpl.Version(ctx, rec.TemplateID, false)
		switch {
		case errors.Is(err, template.ErrNotFound):
			log.Debug("conflict: template deleted, not a conflict",
				"draft_id", rec.ID, "template_id", rec.TemplateID)
			continue
		case err != nil:
			log.Debug("conflict: resolver unavailable, skipping",
				"draft_id", rec.ID, "template_id", rec.TemplateID, "error", err)
			continue
		}

		if current > d.opts.BaselineVersion {
			rep.Conflicts++
		}
	}

	return rep
}

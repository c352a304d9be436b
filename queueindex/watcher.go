package queueindex

import (
	"context"
	"database/sql"
	"time"
)

// The authoring UI and the sidecar daemon open the draft database through
// separate connections, so in-process mutation hooks alone miss half the
// writes. Watch closes that gap by polling PRAGMA data_version, which
// increments whenever another connection commits to the same file.

// WatchStats are point-in-time poll counters.
type WatchStats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
}

// WatchStats returns the watcher counters for this index.
func (i *Index) WatchStats() WatchStats {
	return WatchStats{
		Checks:          i.checks.Load(),
		ChangesDetected: i.changes.Load(),
		Errors:          i.errors.Load(),
	}
}

// Watch polls db for cross-process writes at the given interval and
// re-evaluates the pending count when one is detected. It blocks until ctx
// is cancelled. Interval <= 0 defaults to one second.
func (i *Index) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	log := i.opts.Logger

	last, err := dataVersion(ctx, db)
	if err != nil {
		i.errors.Add(1)
		log.Warn("queueindex: initial data_version check failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("queueindex: watcher started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("queueindex: watcher stopped")
			return
		case <-ticker.C:
			i.checks.Add(1)
			cur, err := dataVersion(ctx, db)
			if err != nil {
				i.errors.Add(1)
				log.Warn("queueindex: data_version check failed", "error", err)
				continue
			}
			if cur != last {
				i.changes.Add(1)
				last = cur
				i.recount()
			}
		}
	}
}

// dataVersion reads PRAGMA data_version. The value is per-connection and
// bumps when a different connection commits.
func dataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

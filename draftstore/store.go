// Package draftstore persists in-progress inspection drafts in a dedicated
// SQLite table so a field user can keep working without a network connection.
//
// The table is the queue: a row with status 'queued' is a pending draft, and
// enumeration is O(queue size) rather than a scan of unrelated local data.
// Rows are destroyed only by the sync orchestrator after confirmed backend
// submission, or as opportunistic cleanup of mock-template drafts.
package draftstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Schema for the drafts table. Applied by EnsureTable.
const Schema = `
CREATE TABLE IF NOT EXISTS drafts (
	id               TEXT PRIMARY KEY,
	template_id      TEXT NOT NULL,
	answers          BLOB NOT NULL DEFAULT '{}',
	template_version INTEGER,
	schema_version   INTEGER NOT NULL DEFAULT 1,
	status           TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued','submitted')),
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts (status, created_at, id);
`

// Options configures a Store.
type Options struct {
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Store is the durable draft store. Safe for concurrent use; every mutation
// is a single-row atomic statement, no multi-key transactions are offered.
type Store struct {
	db   *sql.DB
	opts Options

	hookMu sync.Mutex
	hooks  map[int]func()
	nextID int
}

// New creates a Store handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Store {
	opts.defaults()
	return &Store{db: db, opts: opts, hooks: make(map[int]func())}
}

// EnsureTable creates the drafts table and index if they don't exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return &StorageError{Op: "ensure-table", Err: err}
	}
	return nil
}

// OnMutate registers fn to run after every successful draft mutation
// (put, delete, mark-submitted, sweep). Returns an unregister func.
// Hooks run synchronously on the mutating goroutine.
func (s *Store) OnMutate(fn func()) func() {
	s.hookMu.Lock()
	id := s.nextID
	s.nextID++
	s.hooks[id] = fn
	s.hookMu.Unlock()

	return func() {
		s.hookMu.Lock()
		delete(s.hooks, id)
		s.hookMu.Unlock()
	}
}

func (s *Store) notify() {
	s.hookMu.Lock()
	fns := make([]func(), 0, len(s.hooks))
	for _, fn := range s.hooks {
		fns = append(fns, fn)
	}
	s.hookMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Put creates or replaces a draft. The authoring UI calls this on every edit,
// so it must stay a single upsert. A failed Put propagates — the caller owns
// telling the user their answers did not land on disk.
func (s *Store) Put(ctx context.Context, rec *DraftRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = SchemaVersion
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	answers := rec.Answers
	if len(answers) == 0 {
		answers = json.RawMessage(`{}`)
	}

	var tv any
	if rec.TemplateVersion != nil {
		tv = *rec.TemplateVersion
	}

	// An edit re-queues the draft: if the row sits in 'submitted' (crash
	// window between backend confirmation and local delete), the new answers
	// are unsubmitted content and must not be swept.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, template_id, answers, template_version, schema_version, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			template_id      = excluded.template_id,
			answers          = excluded.answers,
			template_version = excluded.template_version,
			schema_version   = excluded.schema_version,
			status           = excluded.status,
			updated_at       = excluded.updated_at`,
		rec.ID, rec.TemplateID, []byte(answers), tv, rec.SchemaVersion,
		StatusQueued, rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return &StorageError{Op: "put", DraftID: rec.ID, Err: err}
	}
	s.notify()
	return nil
}

// Get returns the draft with the given id, or (nil, nil) if absent.
// A stored row that fails validation returns a MalformedDraftError.
func (s *Store) Get(ctx context.Context, id string) (*DraftRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, answers, template_version, schema_version, created_at, updated_at
		FROM drafts WHERE id = ?`, id)

	rec, err := scanDraft(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if _, ok := err.(*MalformedDraftError); ok {
			return nil, err
		}
		return nil, &StorageError{Op: "get", DraftID: id, Err: err}
	}
	return rec, nil
}

// Delete removes a draft. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return &StorageError{Op: "delete", DraftID: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify()
	}
	return nil
}

// Keys returns the ids of all queued drafts in lexicographic order.
// Draft ids are time-sortable (UUIDv7), so this is also insertion order
// for engine-minted ids.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM drafts WHERE status = ? ORDER BY id`, StatusQueued)
	if err != nil {
		return nil, &StorageError{Op: "keys", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "keys", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "keys", Err: err}
	}
	return ids, nil
}

// ListQueued returns all queued drafts in insertion order. Rows that fail
// validation are excluded and logged at Error level — one corrupt legacy
// draft must not wedge the whole queue.
func (s *Store) ListQueued(ctx context.Context) ([]DraftRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, answers, template_version, schema_version, created_at, updated_at
		FROM drafts WHERE status = ? ORDER BY created_at, id`, StatusQueued)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var drafts []DraftRecord
	for rows.Next() {
		rec, err := scanDraft(rows.Scan)
		if err != nil {
			if me, ok := err.(*MalformedDraftError); ok {
				s.opts.Logger.Error("draftstore: skipping malformed draft",
					"draft_id", me.DraftID, "reason", me.Reason)
				continue
			}
			return nil, &StorageError{Op: "list", Err: err}
		}
		drafts = append(drafts, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return drafts, nil
}

// Count returns the number of queued drafts, recomputed from storage.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM drafts WHERE status = ?`, StatusQueued).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

// MarkSubmitted flips a draft to 'submitted' after backend confirmation and
// before the local delete. If the process dies between the two, the row is
// swept without resubmission on the next run instead of being sent twice.
func (s *Store) MarkSubmitted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status = ?, updated_at = ? WHERE id = ?`,
		StatusSubmitted, time.Now().UnixMilli(), id)
	if err != nil {
		return &StorageError{Op: "mark-submitted", DraftID: id, Err: err}
	}
	s.notify()
	return nil
}

// SweepSubmitted deletes leftover 'submitted' rows and returns how many were
// removed. Called at the start of every sync run.
func (s *Store) SweepSubmitted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM drafts WHERE status = ?`, StatusSubmitted)
	if err != nil {
		return 0, &StorageError{Op: "sweep", Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.opts.Logger.Info("draftstore: swept submitted drafts", "count", n)
		s.notify()
	}
	return int(n), nil
}

// scanDraft maps one row to a DraftRecord and validates it.
func scanDraft(scan func(...any) error) (*DraftRecord, error) {
	var rec DraftRecord
	var answers []byte
	var tv sql.NullInt64
	var createdMs, updatedMs int64

	if err := scan(&rec.ID, &rec.TemplateID, &answers, &tv, &rec.SchemaVersion, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	rec.Answers = json.RawMessage(answers)
	if tv.Valid {
		rec.TemplateVersion = &tv.Int64
	}
	rec.CreatedAt = time.UnixMilli(createdMs)
	rec.UpdatedAt = time.UnixMilli(updatedMs)

	if rec.SchemaVersion > SchemaVersion {
		return nil, &MalformedDraftError{DraftID: rec.ID,
			Reason: "schema_version newer than this build"}
	}
	if rec.TemplateID == "" {
		return nil, &MalformedDraftError{DraftID: rec.ID, Reason: "missing template_id"}
	}
	if !json.Valid(rec.Answers) {
		return nil, &MalformedDraftError{DraftID: rec.ID, Reason: "answers is not valid JSON"}
	}
	return &rec, nil
}

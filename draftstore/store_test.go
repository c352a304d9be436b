package draftstore_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/fieldops/draftsync/dbopen"
	"github.com/fieldops/draftsync/draftstore"
)

func openStore(t *testing.T) (*draftstore.Store, *sql.DB) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := draftstore.New(db, draftstore.Options{})
	if err := s.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, db
}

func putDraft(t *testing.T, s *draftstore.Store, id, templateID string) {
	t.Helper()
	err := s.Put(context.Background(), &draftstore.DraftRecord{
		ID:         id,
		TemplateID: templateID,
		Answers:    json.RawMessage(`{"q1":"yes"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPutGet(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	v := int64(2)
	err := s.Put(ctx, &draftstore.DraftRecord{
		ID:              "drf_a",
		TemplateID:      "tpl-1",
		Answers:         json.RawMessage(`{"q1":"ok","q2":42}`),
		TemplateVersion: &v,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := s.Get(ctx, "drf_a")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.TemplateID != "tpl-1" {
		t.Fatalf("got template %q, want tpl-1", rec.TemplateID)
	}
	if rec.TemplateVersion == nil || *rec.TemplateVersion != 2 {
		t.Fatalf("got template_version %v, want 2", rec.TemplateVersion)
	}
	if string(rec.Answers) != `{"q1":"ok","q2":42}` {
		t.Fatalf("answers round-trip mismatch: %s", rec.Answers)
	}
	if rec.SchemaVersion != draftstore.SchemaVersion {
		t.Fatalf("got schema_version %d, want %d", rec.SchemaVersion, draftstore.SchemaVersion)
	}
}

func TestGetAbsent(t *testing.T) {
	s, _ := openStore(t)

	rec, err := s.Get(context.Background(), "drf_missing")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatal("expected nil for absent draft")
	}
}

func TestPutUpdateKeepsCreatedAt(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	putDraft(t, s, "drf_a", "tpl-1")
	first, _ := s.Get(ctx, "drf_a")

	err := s.Put(ctx, &draftstore.DraftRecord{
		ID:         "drf_a",
		TemplateID: "tpl-1",
		Answers:    json.RawMessage(`{"q1":"edited"}`),
		CreatedAt:  first.CreatedAt,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, _ := s.Get(ctx, "drf_a")
	if !rec.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed on update: %v vs %v", rec.CreatedAt, first.CreatedAt)
	}
	if string(rec.Answers) != `{"q1":"edited"}` {
		t.Fatalf("answers not updated: %s", rec.Answers)
	}

	n, _ := s.Count(ctx)
	if n != 1 {
		t.Fatalf("update must not duplicate the row, got count %d", n)
	}
}

func TestPutRejectsInvalid(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	err := s.Put(ctx, &draftstore.DraftRecord{TemplateID: "tpl-1"})
	if !errors.Is(err, draftstore.ErrInvalidDraft) {
		t.Fatalf("missing id: got %v, want ErrInvalidDraft", err)
	}

	err = s.Put(ctx, &draftstore.DraftRecord{ID: "drf_a"})
	if !errors.Is(err, draftstore.ErrInvalidDraft) {
		t.Fatalf("missing template: got %v, want ErrInvalidDraft", err)
	}

	err = s.Put(ctx, &draftstore.DraftRecord{
		ID: "drf_a", TemplateID: "tpl-1", Answers: json.RawMessage(`{not json`),
	})
	if !errors.Is(err, draftstore.ErrInvalidDraft) {
		t.Fatalf("bad answers: got %v, want ErrInvalidDraft", err)
	}
}

func TestDelete(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	putDraft(t, s, "drf_a", "tpl-1")
	if err := s.Delete(ctx, "drf_a"); err != nil {
		t.Fatal(err)
	}

	rec, _ := s.Get(ctx, "drf_a")
	if rec != nil {
		t.Fatal("draft should be gone")
	}

	// Deleting an absent id is not an error.
	if err := s.Delete(ctx, "drf_a"); err != nil {
		t.Fatal(err)
	}
}

func TestKeysOrdered(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	putDraft(t, s, "drf_c", "tpl-1")
	putDraft(t, s, "drf_a", "tpl-1")
	putDraft(t, s, "drf_b", "tpl-2")

	ids, err := s.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"drf_a", "drf_b", "drf_c"}
	if len(ids) != len(want) {
		t.Fatalf("got %d keys, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("keys[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestCountTracksMutations(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	n, _ := s.Count(ctx)
	if n != 0 {
		t.Fatalf("empty store count = %d, want 0", n)
	}

	putDraft(t, s, "drf_a", "tpl-1")
	putDraft(t, s, "drf_b", "tpl-1")
	n, _ = s.Count(ctx)
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	s.Delete(ctx, "drf_a")
	n, _ = s.Count(ctx)
	if n != 1 {
		t.Fatalf("count after delete = %d, want 1", n)
	}
}

func TestOnMutateHooks(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	var fired int
	unsub := s.OnMutate(func() { fired++ })

	putDraft(t, s, "drf_a", "tpl-1")
	if fired != 1 {
		t.Fatalf("hook fired %d times after put, want 1", fired)
	}

	s.Delete(ctx, "drf_a")
	if fired != 2 {
		t.Fatalf("hook fired %d times after delete, want 2", fired)
	}

	// Deleting an absent row mutates nothing — no notification.
	s.Delete(ctx, "drf_a")
	if fired != 2 {
		t.Fatalf("hook fired on no-op delete, count %d", fired)
	}

	unsub()
	putDraft(t, s, "drf_b", "tpl-1")
	if fired != 2 {
		t.Fatal("hook fired after unregister")
	}
}

func TestMarkSubmittedExcludesFromQueue(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	putDraft(t, s, "drf_a", "tpl-1")
	putDraft(t, s, "drf_b", "tpl-1")

	if err := s.MarkSubmitted(ctx, "drf_a"); err != nil {
		t.Fatal(err)
	}

	n, _ := s.Count(ctx)
	if n != 1 {
		t.Fatalf("count = %d, want 1 (submitted excluded)", n)
	}
	ids, _ := s.Keys(ctx)
	if len(ids) != 1 || ids[0] != "drf_b" {
		t.Fatalf("keys = %v, want [drf_b]", ids)
	}
}

func TestSweepSubmitted(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	putDraft(t, s, "drf_a", "tpl-1")
	putDraft(t, s, "drf_b", "tpl-1")
	s.MarkSubmitted(ctx, "drf_a")

	n, err := s.SweepSubmitted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}

	rec, _ := s.Get(ctx, "drf_a")
	if rec != nil {
		t.Fatal("submitted draft should be deleted by sweep, not resubmitted")
	}
	rec, _ = s.Get(ctx, "drf_b")
	if rec == nil {
		t.Fatal("queued draft must survive the sweep")
	}
}

func TestListQueuedSkipsMalformed(t *testing.T) {
	s, db := openStore(t)
	ctx := context.Background()

	putDraft(t, s, "drf_a", "tpl-1")

	// Simulate a row written by a future build.
	_, err := db.Exec(`
		INSERT INTO drafts (id, template_id, answers, schema_version, status, created_at, updated_at)
		VALUES ('drf_future', 'tpl-9', '{}', 99, 'queued', 0, 0)`)
	if err != nil {
		t.Fatal(err)
	}

	drafts, err := s.ListQueued(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 1 || drafts[0].ID != "drf_a" {
		t.Fatalf("got %v, want only drf_a", drafts)
	}

	// Get fails loudly for the same row.
	_, err = s.Get(ctx, "drf_future")
	var me *draftstore.MalformedDraftError
	if !errors.As(err, &me) {
		t.Fatalf("got %v, want MalformedDraftError", err)
	}
}

func TestListQueuedInsertionOrder(t *testing.T) {
	s, db := openStore(t)
	ctx := context.Background()

	// created_at drives the order, id breaks ties.
	stmts := []struct {
		id string
		at int64
	}{
		{"drf_late", 300},
		{"drf_early", 100},
		{"drf_mid", 200},
	}
	for _, st := range stmts {
		_, err := db.Exec(`
			INSERT INTO drafts (id, template_id, answers, schema_version, status, created_at, updated_at)
			VALUES (?, 'tpl-1', '{}', 1, 'queued', ?, ?)`, st.id, st.at, st.at)
		if err != nil {
			t.Fatal(err)
		}
	}

	drafts, err := s.ListQueued(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"drf_early", "drf_mid", "drf_late"}
	for i := range want {
		if drafts[i].ID != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, drafts[i].ID, want[i])
		}
	}
}

func TestPutRequeuesSubmittedDraft(t *testing.T) {
	// An edit landing while the row sits in 'submitted' (crash window between
	// backend confirmation and local delete) carries unsubmitted content and
	// must flip the draft back to queued, out of the sweep's reach.
	s, _ := openStore(t)
	ctx := context.Background()

	putDraft(t, s, "drf_a", "tpl-1")
	if err := s.MarkSubmitted(ctx, "drf_a"); err != nil {
		t.Fatal(err)
	}

	err := s.Put(ctx, &draftstore.DraftRecord{
		ID:         "drf_a",
		TemplateID: "tpl-1",
		Answers:    json.RawMessage(`{"q1":"edited"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1 (edited draft back in the queue)", n)
	}

	swept, err := s.SweepSubmitted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 0 {
		t.Fatalf("swept %d drafts, want 0", swept)
	}
	rec, err := s.Get(ctx, "drf_a")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("edited draft must survive the sweep")
	}
	if string(rec.Answers) != `{"q1":"edited"}` {
		t.Fatalf("answers = %s, want the edited content", rec.Answers)
	}
}

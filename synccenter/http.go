package synccenter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/draftsync/draftstore"
	"github.com/fieldops/draftsync/idgen"
	"github.com/fieldops/draftsync/shield"
	"github.com/fieldops/draftsync/syncq"
	"github.com/fieldops/draftsync/template"
)

// Routes returns the HTTP API for the sync center.
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Drafts.
	r.Get("/api/drafts", func(w http.ResponseWriter, r *http.Request) {
		drafts, err := s.store.ListQueued(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if drafts == nil {
			drafts = []draftstore.DraftRecord{}
		}
		writeJSON(w, http.StatusOK, drafts)
	})

	r.Post("/api/drafts", func(w http.ResponseWriter, r *http.Request) {
		rec, code, err := decodeDraft(r, idgen.NewDraftID())
		if err != nil {
			writeError(w, code, err)
			return
		}
		if err := s.store.Put(r.Context(), rec); err != nil {
			writeError(w, storeErrCode(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	})

	r.Get("/api/drafts/{draftID}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "draftID")
		rec, err := s.store.Get(r.Context(), id)
		if err != nil {
			writeError(w, storeErrCode(err), err)
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("draft %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	r.Put("/api/drafts/{draftID}", func(w http.ResponseWriter, r *http.Request) {
		if err := validDraftID(chi.URLParam(r, "draftID")); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, code, err := decodeDraft(r, chi.URLParam(r, "draftID"))
		if err != nil {
			writeError(w, code, err)
			return
		}
		if err := s.store.Put(r.Context(), rec); err != nil {
			writeError(w, storeErrCode(err), err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	r.Delete("/api/drafts/{draftID}", func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Delete(r.Context(), chi.URLParam(r, "draftID")); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	})

	// Queue.
	r.Get("/api/queue/count", func(w http.ResponseWriter, r *http.Request) {
		n, err := s.index.Count(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": n})
	})

	r.Get("/api/queue/events", s.handleQueueEvents)

	r.Get("/api/queue/watch-stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.index.WatchStats())
	})

	// Conflicts.
	r.Post("/api/conflicts/scan", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.detector.Scan(r.Context()))
	})

	// Templates.
	r.Get("/api/templates/{templateID}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "templateID")
		force := r.URL.Query().Get("refresh") == "true"
		tpl, err := s.tpl.Fetch(r.Context(), id, force)
		if err != nil {
			writeError(w, templateErrCode(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"template": tpl})
	})

	// Sync.
	r.Post("/api/sync", func(w http.ResponseWriter, r *http.Request) {
		runID := idgen.NewRunID()
		var events []syncq.ItemEvent
		res, err := s.syncer.Sync(r.Context(), func(ev syncq.ItemEvent) {
			events = append(events, ev)
		})
		switch {
		case errors.Is(err, syncq.ErrSyncInFlight):
			writeError(w, http.StatusConflict, err)
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.log.Info("synccenter: sync run finished", "run_id", runID,
			"total", res.Total, "success", res.Success, "failed", res.Failed)
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id": runID,
			"result": res,
			"items":  itemsJSON(events),
		})
	})

	r.Get("/api/sync/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"running": s.syncer.Running()})
	})

	return r
}

// handleQueueEvents streams pending-count changes as server-sent events.
// The current count is sent immediately so a freshly mounted badge never
// waits for the next mutation.
func (s *Service) handleQueueEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	counts := make(chan int, 8)
	unsubscribe := s.index.Subscribe(func(n int) {
		select {
		case counts <- n:
		default: // slow client, it will catch up on the next change
		}
	})
	defer unsubscribe()

	send := func(n int) {
		fmt.Fprintf(w, "event: count\ndata: {\"count\":%d}\n\n", n)
		flusher.Flush()
	}

	if n, err := s.index.Count(r.Context()); err == nil {
		send(n)
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n := <-counts:
			send(n)
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// draftBody is the JSON shape accepted for draft writes.
type draftBody struct {
	TemplateID      string          `json:"template_id"`
	Answers         json.RawMessage `json:"answers"`
	TemplateVersion *int64          `json:"template_version"`
}

// validDraftID checks the engine id shape: "drf_" followed by a UUID. The id
// doubles as the submission idempotency key, so a malformed one is rejected
// before it can land in storage.
func validDraftID(id string) error {
	suffix, ok := strings.CutPrefix(id, "drf_")
	if !ok {
		return fmt.Errorf("draft id %q must carry the drf_ prefix", id)
	}
	if _, err := idgen.Parse(suffix); err != nil {
		return fmt.Errorf("draft id %q: %w", id, err)
	}
	return nil
}

func decodeDraft(r *http.Request, id string) (*draftstore.DraftRecord, int, error) {
	var body draftBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, http.StatusBadRequest, err
	}
	if len(body.Answers) == 0 {
		body.Answers = json.RawMessage(`{}`)
	}
	return &draftstore.DraftRecord{
		ID:              id,
		TemplateID:      body.TemplateID,
		Answers:         body.Answers,
		TemplateVersion: body.TemplateVersion,
	}, 0, nil
}

func storeErrCode(err error) int {
	var malformed *draftstore.MalformedDraftError
	switch {
	case errors.Is(err, draftstore.ErrInvalidDraft):
		return http.StatusBadRequest
	case errors.As(err, &malformed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func templateErrCode(err error) int {
	switch {
	case errors.Is(err, template.ErrNotFound):
		return http.StatusNotFound
	case template.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// itemsJSON flattens item events for the wire, stringifying the error.
func itemsJSON(events []syncq.ItemEvent) []map[string]string {
	out := make([]map[string]string, 0, len(events))
	for _, ev := range events {
		item := map[string]string{
			"phase":    string(ev.Phase),
			"draft_id": ev.DraftID,
		}
		if ev.Err != nil {
			item["error"] = ev.Err.Error()
		}
		out = append(out, item)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

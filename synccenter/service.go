// Package synccenter composes the draft store, queue index, conflict
// detector and sync orchestrator behind one HTTP and MCP surface. It is the
// sidecar counterpart of the authoring UI's sync-center page.
package synccenter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fieldops/draftsync/conflict"
	"github.com/fieldops/draftsync/draftstore"
	"github.com/fieldops/draftsync/queueindex"
	"github.com/fieldops/draftsync/syncq"
	"github.com/fieldops/draftsync/template"
)

// Service owns the assembled draft-queue engine.
type Service struct {
	cfg      *Config
	db       *sql.DB
	log      *slog.Logger
	store    *draftstore.Store
	index    *queueindex.Index
	tpl      *template.Client
	detector *conflict.Detector
	syncer   *syncq.Syncer
}

// New wires the engine against an open draft database. The caller keeps
// ownership of db.
func New(ctx context.Context, db *sql.DB, cfg *Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := draftstore.New(db, draftstore.Options{Logger: logger})
	if err := store.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("synccenter: ensure drafts table: %w", err)
	}

	tpl, err := template.NewClient(template.Options{
		BaseURL:  cfg.TemplateBaseURL,
		CacheTTL: cfg.CacheTTL(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	submitter, err := syncq.NewHTTPSubmitter(syncq.HTTPSubmitterOptions{
		BaseURL:    cfg.SubmitBaseURL,
		MaxRetries: cfg.Submit.MaxRetries,
		Backoff:    cfg.Submit.Backoff(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:   cfg,
		db:    db,
		log:   logger,
		store: store,
		tpl:   tpl,
		index: queueindex.New(store, queueindex.Options{Logger: logger}),
	}
	svc.detector = conflict.New(store, tpl, conflict.Options{
		MaxScan:         cfg.Conflict.MaxScan,
		BaselineVersion: cfg.Conflict.BaselineVersion,
		Logger:          logger,
	})
	svc.syncer = syncq.New(store, submitter, syncq.Options{Logger: logger})
	return svc, nil
}

// Store exposes the draft store for direct draft CRUD.
func (s *Service) Store() *draftstore.Store { return s.store }

// Index exposes the queue index for count subscriptions.
func (s *Service) Index() *queueindex.Index { return s.index }

// Templates exposes the template resolver.
func (s *Service) Templates() *template.Client { return s.tpl }

// ScanConflicts runs one bounded conflict pass.
func (s *Service) ScanConflicts(ctx context.Context) conflict.Report {
	return s.detector.Scan(ctx)
}

// Sync drains the queue once. See syncq.Syncer.Sync.
func (s *Service) Sync(ctx context.Context, onItem func(syncq.ItemEvent)) (syncq.Result, error) {
	return s.syncer.Sync(ctx, onItem)
}

// SyncRunning reports whether a sync run is in flight.
func (s *Service) SyncRunning() bool { return s.syncer.Running() }

// Watch runs the cross-process change poller until ctx is cancelled.
// Intended to run in its own goroutine.
func (s *Service) Watch(ctx context.Context) {
	s.index.Watch(ctx, s.db, s.cfg.WatchInterval())
}

// Close detaches the queue index. The database stays open.
func (s *Service) Close() {
	s.index.Close()
}

package synccenter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fieldops/draftsync/idgen"
	"github.com/fieldops/draftsync/kit"
	"github.com/fieldops/draftsync/syncq"
)

// RegisterMCP registers the sync-center tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerQueueStatusTool(srv)
	s.registerConflictScanTool(srv)
	s.registerSyncRunTool(srv)
	s.registerDraftGetTool(srv)
}

// --- queue status ---

func (s *Service) registerQueueStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "draftsync_queue_status",
		Description: "Report how many inspection drafts are pending offline and whether a sync run is in flight.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		n, err := s.index.Count(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"pending":      n,
			"sync_running": s.syncer.Running(),
		}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- conflict scan ---

func (s *Service) registerConflictScanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "draftsync_conflict_scan",
		Description: "Scan queued drafts for templates that changed since authoring. Returns a bounded lower-bound estimate.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.detector.Scan(ctx), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- sync run ---

func (s *Service) registerSyncRunTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "draftsync_sync_run",
		Description: "Drain the offline draft queue against the submission backend and report per-draft outcomes.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		runID := idgen.NewRunID()
		var items []map[string]string
		res, err := s.syncer.Sync(ctx, func(ev syncq.ItemEvent) {
			item := map[string]string{
				"phase":    string(ev.Phase),
				"draft_id": ev.DraftID,
			}
			if ev.Err != nil {
				item["error"] = ev.Err.Error()
			}
			items = append(items, item)
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"run_id": runID, "result": res, "items": items}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- draft get ---

type draftGetReq struct {
	DraftID string `json:"draft_id"`
}

func (s *Service) registerDraftGetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "draftsync_draft_get",
		Description: "Fetch one queued inspection draft by id.",
		InputSchema: kit.InputSchema(map[string]any{
			"draft_id": map[string]any{"type": "string", "description": "Draft id to fetch"},
		}, []string{"draft_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*draftGetReq)
		rec, err := s.store.Get(ctx, r.DraftID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("draft %s not found", r.DraftID)
		}
		return rec, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r draftGetReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.DraftID == "" {
			return nil, fmt.Errorf("draft_id is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

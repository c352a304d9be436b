package syncq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/draftsync/draftstore"
)

// SubmissionError is a backend rejection of one draft. It is captured
// per-item and never aborts the batch.
type SubmissionError struct {
	DraftID    string
	StatusCode int // 0 when the request never reached the server
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("syncq: submission of %s rejected (status %d): %s", e.DraftID, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("syncq: submission of %s failed: %s", e.DraftID, e.Message)
}

// HTTPSubmitterOptions configures an HTTPSubmitter.
type HTTPSubmitterOptions struct {
	// BaseURL of the submission API, e.g. "https://ops.example.com".
	BaseURL string
	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
	// MaxRetries is how many times a transient failure (network error or
	// 5xx) is retried before the draft counts as failed. Default: 2.
	// Set -1 to disable retries.
	MaxRetries int
	// Backoff is the initial wait between retries, doubled each attempt.
	// Default: 500ms.
	Backoff time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *HTTPSubmitterOptions) defaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// HTTPSubmitter posts drafts to the inspection-record endpoint. The draft id
// is sent as an idempotency key so the documented at-least-once window is
// deduplicatable server-side.
type HTTPSubmitter struct {
	baseURL string
	opts    HTTPSubmitterOptions
}

// NewHTTPSubmitter creates an HTTPSubmitter.
func NewHTTPSubmitter(opts HTTPSubmitterOptions) (*HTTPSubmitter, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("syncq: BaseURL is required")
	}
	opts.defaults()
	return &HTTPSubmitter{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		opts:    opts,
	}, nil
}

// Submit delivers one draft. Transient failures are retried with exponential
// backoff; a 4xx rejection is final.
func (s *HTTPSubmitter) Submit(ctx context.Context, draft *draftstore.DraftRecord) error {
	body, err := json.Marshal(map[string]any{
		"draft_id":         draft.ID,
		"template_id":      draft.TemplateID,
		"template_version": draft.TemplateVersion,
		"answers":          draft.Answers,
	})
	if err != nil {
		return &SubmissionError{DraftID: draft.ID, Message: fmt.Sprintf("encode: %v", err)}
	}

	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		lastErr = s.post(ctx, draft.ID, body)
		if lastErr == nil {
			return nil
		}
		if se, ok := lastErr.(*SubmissionError); ok && se.StatusCode >= 400 && se.StatusCode < 500 {
			return lastErr // final rejection, retrying cannot help
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < s.opts.MaxRetries {
			wait := s.opts.Backoff * (1 << uint(attempt))
			s.opts.Logger.Warn("syncq: retrying submission",
				"draft_id", draft.ID,
				"attempt", attempt+1,
				"max_retries", s.opts.MaxRetries,
				"backoff_ms", wait.Milliseconds(),
				"error", lastErr)
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}

func (s *HTTPSubmitter) post(ctx context.Context, draftID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/inspection-records", bytes.NewReader(body))
	if err != nil {
		return &SubmissionError{DraftID: draftID, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", draftID)

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return &SubmissionError{DraftID: draftID, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}

	msg := readErrorMessage(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &SubmissionError{DraftID: draftID, StatusCode: resp.StatusCode, Message: msg}
}

// readErrorMessage extracts a human-readable message from an error body,
// accepting either {"error": "..."} or plain text.
func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

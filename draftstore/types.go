package draftstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is the current draft record layout version. Records written
// by older builds carry a lower number; records with a higher number come
// from a newer build and are rejected on read instead of being misread.
const SchemaVersion = 1

// Draft lifecycle status.
const (
	// StatusQueued marks a draft awaiting synchronization.
	StatusQueued = "queued"
	// StatusSubmitted marks a draft whose backend submission was confirmed
	// but whose local delete did not complete (crash window). Swept without
	// resubmission on the next sync run.
	StatusSubmitted = "submitted"
)

// DraftRecord is the unit of offline work: a locally persisted, not-yet
// submitted inspection form. Answers is an opaque question-id to value
// mapping — the engine stores and forwards it, never inspects it.
type DraftRecord struct {
	ID              string          `json:"id"`
	TemplateID      string          `json:"template_id"`
	Answers         json.RawMessage `json:"answers"`
	TemplateVersion *int64          `json:"template_version,omitempty"` // nil = not resolved at authoring time
	SchemaVersion   int             `json:"schema_version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StorageError wraps any failure of the local persistence layer. Write
// failures (quota, locked database) must reach the caller — a lost Put is
// lost field work.
type StorageError struct {
	Op      string // "put", "get", "delete", ...
	DraftID string // empty for whole-store operations
	Err     error
}

func (e *StorageError) Error() string {
	if e.DraftID == "" {
		return fmt.Sprintf("draftstore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("draftstore: %s %s: %v", e.Op, e.DraftID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MalformedDraftError reports a stored record that fails validation on read.
// Legacy or corrupted rows fail loudly instead of being misinterpreted.
type MalformedDraftError struct {
	DraftID string
	Reason  string
}

func (e *MalformedDraftError) Error() string {
	return fmt.Sprintf("draftstore: malformed draft %s: %s", e.DraftID, e.Reason)
}

// ErrInvalidDraft is returned when a caller hands Put an incomplete record.
var ErrInvalidDraft = errors.New("draftstore: invalid draft record")

// validate checks the invariants every stored record must satisfy.
func (r *DraftRecord) validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDraft)
	}
	if r.TemplateID == "" {
		return fmt.Errorf("%w: missing template_id", ErrInvalidDraft)
	}
	if len(r.Answers) > 0 && !json.Valid(r.Answers) {
		return fmt.Errorf("%w: answers is not valid JSON", ErrInvalidDraft)
	}
	return nil
}

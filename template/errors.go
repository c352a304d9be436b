package template

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the template id no longer exists on the
// backend (HTTP 404). Deletion of a template is a benign condition for the
// sync engine — never a conflict signal.
var ErrNotFound = errors.New("template: not found")

// TransientError wraps a network or server failure while resolving a
// template. Callers must treat it as "unknown", never as "no conflict".
type TransientError struct {
	TemplateID string
	StatusCode int // 0 when the request never reached the server
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("template: transient failure for %s (status %d): %v", e.TemplateID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("template: transient failure for %s: %v", e.TemplateID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

package cascade

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ConflictError is returned when an edit arrives for a reference that
// already has an unresolved downstream proposal. Callers must resolve or
// abandon the pending decision before editing again.
type ConflictError struct {
	ReferenceID string
	Handle      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cascade: reference %s has a pending decision (handle %s)", e.ReferenceID, e.Handle)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return eris.As(err, &ce)
}

// ErrUnknownHandle is returned when a decision handle does not exist,
// typically because it was already resolved or abandoned.
var ErrUnknownHandle = eris.New("cascade: unknown decision handle")

// ErrNothingToUndo is returned when the target field holds no retained
// prior value.
var ErrNothingToUndo = eris.New("cascade: nothing to undo")

// ErrFinalized is returned when an edit targets a finalized reference.
var ErrFinalized = eris.New("cascade: reference is finalized")

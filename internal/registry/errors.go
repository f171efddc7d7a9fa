package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/your-org/facereg/internal/models"
)

// Hard failures. Callers match with errors.Is; none of them leaves a partial
// mutation behind because every operation validates before it writes.
var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrValidation        = errors.New("validation failed")
	ErrNothingToUndo     = errors.New("nothing to undo")
	ErrNotUndoable       = errors.New("event cannot be undone")
	ErrMerged            = errors.New("identity has been merged")

	ErrOnlyFace  = fmt.Errorf("%w: only_face", ErrValidation)
	ErrEmptyName = fmt.Errorf("%w: name is empty", ErrValidation)
)

// IllegalTransitionError names the attempted operation, the current state and
// the states the operation requires.
type IllegalTransitionError struct {
	IdentityID string
	Op         string
	Current    models.State
	Allowed    []models.State
}

func (e *IllegalTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("illegal transition: cannot %s identity %s in state %s (requires %s)",
		e.Op, e.IdentityID, e.Current, strings.Join(allowed, " or "))
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

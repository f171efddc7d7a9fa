package registry

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/your-org/facereg/internal/models"
)

// Undo reverses the most recent event on the identity that is not itself an
// undo and has not been undone yet, and returns the UNDO event it recorded.
// The reversed event stays in the log; UNDO points at it by id.
//
// Merges are reversed with UndoMerge and detaches by merging the detached
// identity back, so those events stop the walk with ErrNotUndoable.
func (r *Registry) Undo(id, user string) (models.Event, error) {
	ident, err := r.lookupActive(id)
	if err != nil {
		return models.Event{}, err
	}
	target, ok := r.log.LatestUndoable(id)
	if !ok {
		return models.Event{}, fmt.Errorf("identity %s: %w", id, ErrNothingToUndo)
	}

	meta := map[string]string{
		models.MetaUndoneEventID: target.EventID,
		models.MetaUndoneAction:  string(target.Action),
	}

	switch target.Action {
	case models.ActionPromote:
		if err := undoPromote(ident, target); err != nil {
			return models.Event{}, err
		}
	case models.ActionReject:
		if err := r.undoReject(ident, target, user); err != nil {
			return models.Event{}, err
		}
	case models.ActionUnreject:
		if err := r.undoUnreject(ident, target, user); err != nil {
			return models.Event{}, err
		}
	case models.ActionConfirm, models.ActionContest, models.ActionSkip, models.ActionReset, models.ActionStateChange:
		restored := r.stateBefore(id, target)
		meta[models.MetaPreviousState] = string(ident.State)
		meta[models.MetaNewState] = string(restored)
		ident.State = restored
	case models.ActionRename:
		meta[models.MetaPreviousName] = ident.Name
		meta[models.MetaNewName] = target.Metadata[models.MetaPreviousName]
		ident.Name = target.Metadata[models.MetaPreviousName]
	case models.ActionMerge, models.ActionDetach, models.ActionCreate, models.ActionUndo, models.ActionUndoMerge:
		return models.Event{}, fmt.Errorf("undo %s event %s on %s: %w", target.Action, target.EventID, id, ErrNotUndoable)
	default:
		return models.Event{}, fmt.Errorf("undo unknown action %q on %s: %w", target.Action, id, ErrNotUndoable)
	}

	return r.commit(ident, eventSpec{
		action:   models.ActionUndo,
		faceIDs:  target.FaceIDs,
		user:     user,
		metadata: meta,
	}), nil
}

// stateBefore resolves the state to restore when undoing a state event. The
// event's own previous_state wins; older logs without it fall back to a
// backward scan, and an identity with no earlier state record is PROPOSED.
func (r *Registry) stateBefore(id string, ev models.Event) models.State {
	if prev := ev.Metadata[models.MetaPreviousState]; prev != "" {
		return models.State(prev)
	}
	if st, ok := r.log.StateBefore(id, ev.EventID); ok {
		return st
	}
	return models.StateProposed
}

func undoPromote(ident *models.Identity, ev models.Event) error {
	faceID, err := singleFace(ev)
	if err != nil {
		return err
	}
	idx := ident.AnchorIndex(faceID)
	if idx < 0 {
		return fmt.Errorf("undo promote: face %s is no longer an anchor of %s: %w", faceID, ident.ID, ErrNotFound)
	}
	ident.Anchors = slices.Delete(ident.Anchors, idx, idx+1)
	if !ident.HasCandidate(faceID) {
		ident.Candidates = insertAt(ident.Candidates, candidateIndex(ev), faceID)
	}
	return nil
}

func (r *Registry) undoReject(ident *models.Identity, ev models.Event, user string) error {
	entry, err := singleFace(ev)
	if err != nil {
		return err
	}
	if models.IsIdentityNegative(entry) {
		ident.Negatives = slices.DeleteFunc(ident.Negatives, func(n string) bool { return n == entry })
		if other := r.pairSide(ev); other != nil {
			r.removePairNegative(other, ident.ID, models.ActionUnreject, user, map[string]string{models.MetaUndoneEventID: ev.EventID})
		}
		return nil
	}

	idx := slices.Index(ident.Negatives, entry)
	if idx < 0 {
		return fmt.Errorf("undo reject: face %s is no longer a negative of %s: %w", entry, ident.ID, ErrNotFound)
	}
	ident.Negatives = slices.Delete(ident.Negatives, idx, idx+1)
	if !ident.HasCandidate(entry) && !ident.HasAnchor(entry) {
		ident.Candidates = insertAt(ident.Candidates, candidateIndex(ev), entry)
	}
	return nil
}

func (r *Registry) undoUnreject(ident *models.Identity, ev models.Event, user string) error {
	entry, err := singleFace(ev)
	if err != nil {
		return err
	}
	if !ident.HasNegative(entry) {
		ident.Negatives = append(ident.Negatives, entry)
	}
	if other := r.pairSide(ev); other != nil {
		r.addPairNegative(other, ident.ID, models.ActionReject, user, map[string]string{models.MetaUndoneEventID: ev.EventID})
	}
	return nil
}

// pairSide returns the other identity of a pair event when it can still be
// mutated.
func (r *Registry) pairSide(ev models.Event) *models.Identity {
	otherID := ev.Metadata[models.MetaOtherID]
	if otherID == "" && len(ev.FaceIDs) == 1 {
		otherID = ev.FaceIDs[0][len(models.IdentityNegativePrefix):]
	}
	other, ok := r.identities[otherID]
	if !ok || other.IsMerged() {
		return nil
	}
	return other
}

func singleFace(ev models.Event) (string, error) {
	if len(ev.FaceIDs) != 1 {
		return "", fmt.Errorf("%w: %s event %s touches %d faces", ErrNotUndoable, ev.Action, ev.EventID, len(ev.FaceIDs))
	}
	return ev.FaceIDs[0], nil
}

func candidateIndex(ev models.Event) int {
	idx, err := strconv.Atoi(ev.Metadata[models.MetaCandidateIndex])
	if err != nil {
		return -1
	}
	return idx
}

// insertAt inserts v at idx, clamped to the slice bounds. A negative idx appends.
func insertAt(s []string, idx int, v string) []string {
	if idx < 0 || idx > len(s) {
		idx = len(s)
	}
	return slices.Insert(s, idx, v)
}

package models

import (
	"slices"
	"time"
)

type Action string

const (
	ActionCreate      Action = "create"
	ActionPromote     Action = "promote"
	ActionReject      Action = "reject"
	ActionUnreject    Action = "unreject"
	ActionConfirm     Action = "confirm"
	ActionContest     Action = "contest"
	ActionSkip        Action = "skip"
	ActionReset       Action = "reset"
	ActionUndo        Action = "undo"
	ActionMerge       Action = "merge"
	ActionUndoMerge   Action = "undo_merge"
	ActionRename      Action = "rename"
	ActionDetach      Action = "detach"
	ActionStateChange Action = "state_change"
)

// SetsState reports whether events with this action record a previous/new state pair.
func (a Action) SetsState() bool {
	switch a {
	case ActionConfirm, ActionContest, ActionSkip, ActionReset, ActionStateChange:
		return true
	case ActionCreate, ActionPromote, ActionReject, ActionUnreject, ActionUndo,
		ActionMerge, ActionUndoMerge, ActionRename, ActionDetach:
		return false
	}
	return false
}

// Event metadata keys.
const (
	MetaPreviousState  = "previous_state"
	MetaNewState       = "new_state"
	MetaPreviousName   = "previous_name"
	MetaNewName        = "new_name"
	MetaReason         = "reason"
	MetaEraBin         = "era_bin"
	MetaCandidateIndex = "candidate_index"
	MetaUndoneEventID  = "undone_event_id"
	MetaUndoneAction   = "undone_action"
	MetaSourceID       = "source_id"
	MetaTargetID       = "target_id"
	MetaMergeEventID   = "merge_event_id"
	MetaOtherID        = "other_identity_id"
	MetaDetachedFrom   = "detached_from"
	MetaDetachedInto   = "detached_into"
	MetaWasAnchor      = "was_anchor"
	MetaTransition     = "transition"
	MetaSwapped        = "direction_swapped"
)

// Event is one entry of the append-only history. It is never mutated once appended.
type Event struct {
	EventID          string            `json:"event_id"`
	Timestamp        time.Time         `json:"timestamp"`
	IdentityID       string            `json:"identity_id"`
	Action           Action            `json:"action"`
	FaceIDs          []string          `json:"face_ids"`
	UserSource       string            `json:"user_source"`
	ConfidenceWeight float64           `json:"confidence_weight"`
	PreviousVersion  int               `json:"previous_version"`
	Metadata         map[string]string `json:"metadata"`
}

func (e Event) Clone() Event {
	c := e
	c.FaceIDs = slices.Clone(e.FaceIDs)
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Package eventlog holds the append-only history of registry mutations.
package eventlog

import (
	"github.com/your-org/facereg/internal/models"
)

// Log is an ordered, append-only sequence of events. Appended events are
// copied in and copied out so callers can never edit history in place.
type Log struct {
	events []models.Event
}

func New() *Log {
	return &Log{}
}

// FromEvents rebuilds a log from a persisted slice, verbatim.
func FromEvents(events []models.Event) *Log {
	l := &Log{events: make([]models.Event, 0, len(events))}
	for _, e := range events {
		l.events = append(l.events, e.Clone())
	}
	return l
}

func (l *Log) Append(e models.Event) {
	l.events = append(l.events, e.Clone())
}

func (l *Log) Len() int {
	return len(l.events)
}

// All returns a copy of every event in append order.
func (l *Log) All() []models.Event {
	out := make([]models.Event, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Clone())
	}
	return out
}

// ForIdentity returns the events recorded on identityID in append order.
func (l *Log) ForIdentity(identityID string) []models.Event {
	var out []models.Event
	for _, e := range l.events {
		if e.IdentityID == identityID {
			out = append(out, e.Clone())
		}
	}
	return out
}

// UndoneSet returns the ids of events on identityID already reversed by an
// UNDO event, plus merges reversed by UNDO_MERGE.
func (l *Log) UndoneSet(identityID string) map[string]bool {
	undone := make(map[string]bool)
	for _, e := range l.events {
		if e.IdentityID != identityID {
			continue
		}
		switch e.Action {
		case models.ActionUndo:
			if id := e.Metadata[models.MetaUndoneEventID]; id != "" {
				undone[id] = true
			}
		case models.ActionUndoMerge:
			if id := e.Metadata[models.MetaMergeEventID]; id != "" {
				undone[id] = true
			}
		}
	}
	return undone
}

// LatestUndoable returns the most recent event on identityID that is neither
// an UNDO/UNDO_MERGE nor already undone. ok is false when only the CREATE
// event (or nothing) remains.
func (l *Log) LatestUndoable(identityID string) (models.Event, bool) {
	undone := l.UndoneSet(identityID)
	for i := len(l.events) - 1; i >= 0; i-- {
		e := l.events[i]
		if e.IdentityID != identityID || undone[e.EventID] {
			continue
		}
		switch e.Action {
		case models.ActionUndo, models.ActionUndoMerge:
			continue
		case models.ActionCreate:
			return models.Event{}, false
		}
		return e.Clone(), true
	}
	return models.Event{}, false
}

// StateBefore scans backward from the event with id beforeEventID and returns
// the state set by the closest earlier, non-undone state-setting event on
// identityID (a state action, a MERGE that recorded a new state, or CREATE).
func (l *Log) StateBefore(identityID, beforeEventID string) (models.State, bool) {
	undone := l.UndoneSet(identityID)
	start := len(l.events) - 1
	for i := range l.events {
		if l.events[i].EventID == beforeEventID {
			start = i - 1
			break
		}
	}
	for i := start; i >= 0; i-- {
		e := l.events[i]
		if e.IdentityID != identityID || undone[e.EventID] {
			continue
		}
		if st := e.Metadata[models.MetaNewState]; st != "" {
			if e.Action.SetsState() || e.Action == models.ActionCreate || e.Action == models.ActionMerge {
				return models.State(st), true
			}
		}
	}
	return "", false
}

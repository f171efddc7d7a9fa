package registry

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/your-org/facereg/internal/models"
)

type transition int

const (
	transitionPropose transition = iota
	transitionConfirm
	transitionReject
	transitionSkip
	transitionReset
	transitionContest
)

func (t transition) String() string {
	switch t {
	case transitionPropose:
		return "move_to_proposed"
	case transitionConfirm:
		return "confirm"
	case transitionReject:
		return "reject_identity"
	case transitionSkip:
		return "skip"
	case transitionReset:
		return "reset"
	case transitionContest:
		return "contest"
	}
	panic(fmt.Sprintf("unhandled transition %d", int(t)))
}

// rule is one row of the state machine: the states an operation may start
// from, the state it produces, and how it is recorded.
type rule struct {
	from   []models.State
	to     models.State
	action models.Action
	event  string
}

func (t transition) rule() rule {
	switch t {
	case transitionPropose:
		return rule{
			from:   []models.State{models.StateInbox},
			to:     models.StateProposed,
			action: models.ActionStateChange,
		}
	case transitionConfirm:
		return rule{
			from:   []models.State{models.StateInbox, models.StateProposed, models.StateSkipped},
			to:     models.StateConfirmed,
			action: models.ActionConfirm,
			event:  EventIdentityConfirmed,
		}
	case transitionReject:
		return rule{
			from:   []models.State{models.StateInbox, models.StateProposed, models.StateSkipped},
			to:     models.StateRejected,
			action: models.ActionStateChange,
			event:  EventIdentityRejected,
		}
	case transitionSkip:
		return rule{
			from:   []models.State{models.StateInbox, models.StateProposed},
			to:     models.StateSkipped,
			action: models.ActionSkip,
			event:  EventIdentitySkipped,
		}
	case transitionReset:
		return rule{
			from:   []models.State{models.StateConfirmed, models.StateSkipped, models.StateRejected, models.StateContested},
			to:     models.StateInbox,
			action: models.ActionReset,
			event:  EventIdentityReset,
		}
	case transitionContest:
		return rule{
			from:   slices.Clone(models.States),
			to:     models.StateContested,
			action: models.ActionContest,
			event:  EventIdentityContested,
		}
	}
	panic(fmt.Sprintf("unhandled transition %d", int(t)))
}

func (r *Registry) transition(id string, t transition, user string, extra map[string]string) error {
	ident, err := r.lookupActive(id)
	if err != nil {
		return err
	}
	rl := t.rule()
	if !slices.Contains(rl.from, ident.State) {
		return &IllegalTransitionError{IdentityID: id, Op: t.String(), Current: ident.State, Allowed: rl.from}
	}

	prev := ident.State
	ident.State = rl.to
	meta := map[string]string{
		models.MetaPreviousState: string(prev),
		models.MetaNewState:      string(rl.to),
		models.MetaTransition:    t.String(),
	}
	for k, v := range extra {
		meta[k] = v
	}
	ev := r.commit(ident, eventSpec{action: rl.action, user: user, metadata: meta})

	if rl.event != "" {
		r.emit(rl.event, map[string]any{
			"identity_id":    id,
			"event_id":       ev.EventID,
			"previous_state": string(prev),
			"new_state":      string(rl.to),
			"user_source":    ev.UserSource,
		})
	}
	if t == transitionContest {
		slog.Info("identity contested", "identity_id", id, "previous_state", prev, "reason", extra[models.MetaReason])
	}
	return nil
}

// MoveToProposed moves an INBOX identity to PROPOSED.
func (r *Registry) MoveToProposed(id, user string) error {
	return r.transition(id, transitionPropose, user, nil)
}

// Confirm marks an INBOX, PROPOSED or SKIPPED identity as CONFIRMED.
func (r *Registry) Confirm(id, user string) error {
	return r.transition(id, transitionConfirm, user, nil)
}

// RejectIdentity marks an INBOX, PROPOSED or SKIPPED identity as REJECTED.
func (r *Registry) RejectIdentity(id, user string) error {
	return r.transition(id, transitionReject, user, nil)
}

// Skip defers an INBOX or PROPOSED identity.
func (r *Registry) Skip(id, user string) error {
	return r.transition(id, transitionSkip, user, nil)
}

// Reset returns a CONFIRMED, SKIPPED, REJECTED or CONTESTED identity to INBOX.
func (r *Registry) Reset(id, user string) error {
	return r.transition(id, transitionReset, user, nil)
}

// Contest flags an identity from any state for human review.
func (r *Registry) Contest(id, reason, user string) error {
	var extra map[string]string
	if reason != "" {
		extra = map[string]string{models.MetaReason: reason}
	}
	return r.transition(id, transitionContest, user, extra)
}

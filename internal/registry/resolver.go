package registry

import (
	"fmt"
	"strings"

	"github.com/your-org/facereg/internal/models"
)

// AutoNamePrefix marks names generated by the clustering pipeline.
const AutoNamePrefix = "Unidentified Person"

// IsRealName reports whether name was given by a human rather than generated.
func IsRealName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && !strings.HasPrefix(name, AutoNamePrefix)
}

// StateTrust ranks states for merge direction and state promotion.
func StateTrust(s models.State) int {
	switch s {
	case models.StateConfirmed:
		return 4
	case models.StateProposed:
		return 3
	case models.StateInbox:
		return 2
	case models.StateSkipped:
		return 1
	case models.StateContested, models.StateRejected:
		return 0
	}
	panic(fmt.Sprintf("unhandled identity state %q", s))
}

// Direction is the outcome of ResolveDirection.
type Direction struct {
	TargetID string
	SourceID string
	// Swapped is true when the caller's source became the target.
	Swapped bool
	// Conflict is true when both sides carry different real names.
	Conflict bool
}

// ResolveDirection picks which identity survives a merge. In order: two real
// names are a conflict for a human to settle, a real name beats none, then higher
// state trust, then more faces, then the caller's order.
func ResolveDirection(source, target *models.Identity) Direction {
	keep := Direction{TargetID: target.ID, SourceID: source.ID}
	swap := Direction{TargetID: source.ID, SourceID: target.ID, Swapped: true}

	srcNamed, tgtNamed := IsRealName(source.Name), IsRealName(target.Name)
	switch {
	case srcNamed && tgtNamed:
		keep.Conflict = true
		return keep
	case tgtNamed:
		return keep
	case srcNamed:
		return swap
	}

	if st, tt := StateTrust(source.State), StateTrust(target.State); st != tt {
		if st > tt {
			return swap
		}
		return keep
	}
	if sf, tf := source.FaceCount(), target.FaceCount(); sf > tf {
		return swap
	}
	return keep
}

func maxTrust(a, b models.State) models.State {
	if StateTrust(b) > StateTrust(a) {
		return b
	}
	return a
}

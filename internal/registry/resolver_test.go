package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/facereg/internal/models"
)

func TestIsRealName(t *testing.T) {
	assert.True(t, IsRealName("Ada"))
	assert.False(t, IsRealName(""))
	assert.False(t, IsRealName("   "))
	assert.False(t, IsRealName("Unidentified Person 12"))
}

func TestStateTrustOrdering(t *testing.T) {
	assert.Greater(t, StateTrust(models.StateConfirmed), StateTrust(models.StateProposed))
	assert.Greater(t, StateTrust(models.StateProposed), StateTrust(models.StateInbox))
	assert.Greater(t, StateTrust(models.StateInbox), StateTrust(models.StateSkipped))
	assert.Greater(t, StateTrust(models.StateSkipped), StateTrust(models.StateContested))
	assert.Equal(t, StateTrust(models.StateContested), StateTrust(models.StateRejected))
	assert.Panics(t, func() { StateTrust("LIMBO") })
}

func TestResolveDirection(t *testing.T) {
	ident := func(id, name string, state models.State, faces int) *models.Identity {
		i := &models.Identity{ID: id, Name: name, State: state}
		for n := 0; n < faces; n++ {
			i.Candidates = append(i.Candidates, id+string(rune('a'+n)))
		}
		return i
	}

	tests := []struct {
		name     string
		source   *models.Identity
		target   *models.Identity
		swapped  bool
		conflict bool
	}{
		{"named source wins", ident("s", "Ada", models.StateInbox, 1), ident("t", "", models.StateConfirmed, 5), true, false},
		{"named target kept", ident("s", "", models.StateConfirmed, 5), ident("t", "Ada", models.StateInbox, 1), false, false},
		{"different names conflict", ident("s", "Ada", models.StateInbox, 1), ident("t", "Grace", models.StateInbox, 1), false, true},
		{"same name still conflicts", ident("s", "ada", models.StateConfirmed, 1), ident("t", "Ada", models.StateInbox, 1), false, true},
		{"higher trust source wins", ident("s", "", models.StateConfirmed, 1), ident("t", "", models.StateProposed, 9), true, false},
		{"lower trust source loses", ident("s", "", models.StateSkipped, 9), ident("t", "", models.StateInbox, 1), false, false},
		{"more faces wins on equal trust", ident("s", "", models.StateProposed, 3), ident("t", "", models.StateProposed, 2), true, false},
		{"tie keeps caller order", ident("s", "", models.StateProposed, 2), ident("t", "", models.StateProposed, 2), false, false},
		{"auto names count as unnamed", ident("s", "Unidentified Person 1", models.StateProposed, 1), ident("t", "Unidentified Person 2", models.StateProposed, 2), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ResolveDirection(tt.source, tt.target)
			assert.Equal(t, tt.swapped, d.Swapped)
			assert.Equal(t, tt.conflict, d.Conflict)
			if tt.swapped {
				assert.Equal(t, tt.source.ID, d.TargetID)
			} else {
				assert.Equal(t, tt.target.ID, d.TargetID)
			}
		})
	}
}

package registry

import (
	"slices"
	"sort"
	"strings"

	"github.com/your-org/facereg/internal/models"
)

// Get returns a copy of the identity, merged or not.
func (r *Registry) Get(id string) (*models.Identity, error) {
	ident, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return ident.Clone(), nil
}

type ListOptions struct {
	// State filters by state when set.
	State         models.State
	IncludeMerged bool
}

// List returns copies ordered by creation time, then id.
func (r *Registry) List(opts ListOptions) []*models.Identity {
	return r.collect(func(i *models.Identity) bool {
		if i.IsMerged() && !opts.IncludeMerged {
			return false
		}
		return opts.State == "" || i.State == opts.State
	})
}

// ListByJob returns every identity, merged ones included, whose provenance
// names jobID. Used for bulk cleanup of an ingestion run.
func (r *Registry) ListByJob(jobID string) []*models.Identity {
	return r.collect(func(i *models.Identity) bool {
		return jobID != "" && i.JobID() == jobID
	})
}

func (r *Registry) collect(keep func(*models.Identity) bool) []*models.Identity {
	out := make([]*models.Identity, 0)
	for _, ident := range r.identities {
		if keep(ident) {
			out = append(out, ident.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// History returns the events recorded on the identity in order.
func (r *Registry) History(id string) ([]models.Event, error) {
	if _, err := r.lookup(id); err != nil {
		return nil, err
	}
	events := r.log.ForIdentity(id)
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

// EventCount is the number of events in the log.
func (r *Registry) EventCount() int {
	return r.log.Len()
}

// Events returns the whole log in append order.
func (r *Registry) Events() []models.Event {
	return r.log.All()
}

const defaultSearchLimit = 10

type SearchOptions struct {
	Limit     int
	ExcludeID string
	// States defaults to CONFIRMED only.
	States []models.State
}

// Search matches query as a case-insensitive substring of names of
// non-merged identities. Names starting with the query rank first.
func (r *Registry) Search(query string, opts SearchOptions) []*models.Identity {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []*models.Identity{}
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	states := opts.States
	if len(states) == 0 {
		states = []models.State{models.StateConfirmed}
	}

	matches := r.collect(func(i *models.Identity) bool {
		return !i.IsMerged() &&
			i.ID != opts.ExcludeID &&
			slices.Contains(states, i.State) &&
			strings.Contains(strings.ToLower(i.Name), q)
	})
	sort.SliceStable(matches, func(i, j int) bool {
		pi := strings.HasPrefix(strings.ToLower(matches[i].Name), q)
		pj := strings.HasPrefix(strings.ToLower(matches[j].Name), q)
		if pi != pj {
			return pi
		}
		return strings.ToLower(matches[i].Name) < strings.ToLower(matches[j].Name)
	})
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches
}

// Stats counts non-merged identities per state. Every state is present.
func (r *Registry) Stats() map[models.State]int {
	counts := make(map[models.State]int, len(models.States))
	for _, s := range models.States {
		counts[s] = 0
	}
	for _, ident := range r.identities {
		if !ident.IsMerged() {
			counts[ident.State]++
		}
	}
	return counts
}

package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/your-org/facereg/internal/models"
)

// sequentialIDs returns a generator producing id-0001, id-0002, ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}

// steppingClock returns a clock that advances one second per call.
func steppingClock() func() time.Time {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	base := []Option{WithClock(steppingClock()), WithIDGenerator(sequentialIDs())}
	return New(append(base, opts...)...)
}

func mustCreate(t *testing.T, r *Registry, p CreateParams) string {
	t.Helper()
	id, err := r.Create(p)
	require.NoError(t, err)
	return id
}

func mustGet(t *testing.T, r *Registry, id string) *models.Identity {
	t.Helper()
	ident, err := r.Get(id)
	require.NoError(t, err)
	return ident
}

// photoIndex maps face id to photo id.
type photoIndex map[string]string

func (p photoIndex) PhotosForFaces(_ context.Context, faceIDs []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, f := range faceIDs {
		if photo, ok := p[f]; ok {
			out[photo] = struct{}{}
		}
	}
	return out, nil
}

type recorded struct {
	name    string
	payload map[string]any
}

type recordingSink struct {
	mu     sync.Mutex
	events []recorded
}

func (s *recordingSink) Record(event string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recorded{name: event, payload: payload})
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.name)
	}
	return out
}

type panickingSink struct{}

func (panickingSink) Record(string, map[string]any) { panic("sink exploded") }

package service

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facereg/internal/models"
	"github.com/your-org/facereg/internal/registry"
)

type countingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *countingSink) Record(event string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *countingSink) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func newService(t *testing.T, sink registry.EventSink) *IdentityService {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "identities.json"), filepath.Join(dir, "backups"), sink)
}

func TestMutate_PersistsAcrossCalls(t *testing.T) {
	svc := newService(t, nil)

	var id string
	require.NoError(t, svc.Mutate(func(r *registry.Registry) error {
		var err error
		id, err = r.Create(registry.CreateParams{AnchorIDs: []string{"f1"}})
		return err
	}))
	require.NoError(t, svc.Mutate(func(r *registry.Registry) error {
		return r.Confirm(id, "")
	}))

	require.NoError(t, svc.Read(func(r *registry.Registry) error {
		ident, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.StateConfirmed, ident.State)
		assert.Equal(t, 2, r.EventCount())
		return nil
	}))
}

func TestRead_MissingFileStartsEmpty(t *testing.T) {
	svc := newService(t, nil)

	require.NoError(t, svc.Read(func(r *registry.Registry) error {
		assert.Empty(t, r.List(registry.ListOptions{IncludeMerged: true}))
		_, err := r.Create(registry.CreateParams{AnchorIDs: []string{"f1"}})
		return err
	}))
	_, err := os.Stat(svc.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist), "read never saves")
}

func TestMutate_NoEventNoSave(t *testing.T) {
	svc := newService(t, nil)

	require.NoError(t, svc.Mutate(func(r *registry.Registry) error { return nil }))
	_, err := os.Stat(svc.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMutate_ErrorDiscardsChanges(t *testing.T) {
	sink := &countingSink{}
	svc := newService(t, sink)
	boom := errors.New("boom")

	err := svc.Mutate(func(r *registry.Registry) error {
		id, err := r.Create(registry.CreateParams{AnchorIDs: []string{"f1"}, State: models.StateInbox})
		require.NoError(t, err)
		require.NoError(t, r.Confirm(id, ""))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, sink.recorded())
	_, statErr := os.Stat(svc.Path())
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestMutate_SinkOnlyAfterSuccessfulSave(t *testing.T) {
	sink := &countingSink{}
	svc := newService(t, sink)

	// A directory squatting on the temp path makes the write fail.
	require.NoError(t, os.Mkdir(svc.Path()+".tmp", 0o755))
	err := svc.Mutate(func(r *registry.Registry) error {
		id, err := r.Create(registry.CreateParams{AnchorIDs: []string{"f1"}})
		if err != nil {
			return err
		}
		return r.Confirm(id, "")
	})
	require.Error(t, err)
	assert.Empty(t, sink.recorded())

	require.NoError(t, svc.Mutate(func(r *registry.Registry) error {
		id, err := r.Create(registry.CreateParams{AnchorIDs: []string{"f1"}})
		if err != nil {
			return err
		}
		return r.Confirm(id, "")
	}))
	assert.Equal(t, []string{registry.EventIdentityConfirmed}, sink.recorded())
}

func TestMutate_ConcurrentCallersSerialize(t *testing.T) {
	svc := newService(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Mutate(func(r *registry.Registry) error {
				_, err := r.Create(registry.CreateParams{AnchorIDs: []string{"f"}})
				return err
			}))
		}()
	}
	wg.Wait()

	require.NoError(t, svc.Read(func(r *registry.Registry) error {
		assert.Len(t, r.List(registry.ListOptions{}), 8)
		return nil
	}))
}

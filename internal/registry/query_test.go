package registry

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facereg/internal/models"
)

func TestListAndStats(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}, State: models.StateInbox})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}})
	c := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fc"}, State: models.StateConfirmed})
	_, err := r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{ManualDirection: true})
	require.NoError(t, err)

	ids := func(list []*models.Identity) []string {
		out := make([]string, 0, len(list))
		for _, i := range list {
			out = append(out, i.ID)
		}
		return out
	}
	assert.Equal(t, []string{b, c}, ids(r.List(ListOptions{})))
	assert.Equal(t, []string{a, b, c}, ids(r.List(ListOptions{IncludeMerged: true})))
	assert.Equal(t, []string{c}, ids(r.List(ListOptions{State: models.StateConfirmed})))

	stats := r.Stats()
	assert.Len(t, stats, len(models.States))
	assert.Equal(t, 1, stats[models.StateProposed])
	assert.Equal(t, 1, stats[models.StateConfirmed])
	assert.Equal(t, 0, stats[models.StateInbox], "merged identities are not counted")
}

func TestListByJob(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}, Provenance: map[string]string{"job_id": "j1"}})
	mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}, Provenance: map[string]string{"job_id": "j2"}})
	c := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fc"}, Provenance: map[string]string{"job_id": "j1"}})
	_, err := r.Merge(context.Background(), a, c, photoIndex{}, MergeOptions{ManualDirection: true})
	require.NoError(t, err)

	list := r.ListByJob("j1")
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Empty(t, r.ListByJob(""))
}

func TestGetReturnsCopy(t *testing.T) {
	r := newTestRegistry(t)
	id := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}, CandidateIDs: []string{"c1"}})

	ident := mustGet(t, r, id)
	ident.Candidates[0] = "tampered"
	ident.State = models.StateRejected

	fresh := mustGet(t, r, id)
	assert.Equal(t, []string{"c1"}, fresh.Candidates)
	assert.Equal(t, models.StateProposed, fresh.State)

	_, err := r.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.History("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearch(t *testing.T) {
	r := newTestRegistry(t)
	confirmed := models.StateConfirmed
	ann := mustCreate(t, r, CreateParams{AnchorIDs: []string{"f1"}, Name: "Annie Easley", State: confirmed})
	joanna := mustCreate(t, r, CreateParams{AnchorIDs: []string{"f2"}, Name: "Joanna Ann", State: confirmed})
	mustCreate(t, r, CreateParams{AnchorIDs: []string{"f3"}, Name: "Anne Proposed"})
	mustCreate(t, r, CreateParams{AnchorIDs: []string{"f4"}, Name: "Bob", State: confirmed})

	got := r.Search("ann", SearchOptions{})
	require.Len(t, got, 2)
	assert.Equal(t, ann, got[0].ID, "prefix matches rank first")
	assert.Equal(t, joanna, got[1].ID)

	got = r.Search("ANN", SearchOptions{States: []models.State{models.StateProposed, models.StateConfirmed}, ExcludeID: joanna})
	require.Len(t, got, 2)
	assert.Equal(t, "Anne Proposed", got[0].Name)
	assert.Equal(t, ann, got[1].ID)

	assert.Len(t, r.Search("ann", SearchOptions{Limit: 1}), 1)
	assert.Empty(t, r.Search("   ", SearchOptions{}))
}

func TestSaveLoadReplaysIdentically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	r := newTestRegistry(t)

	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}, CandidateIDs: []string{"c1", "c2"}, Name: "Unidentified Person 1"})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}, Name: "Evelyn Boyd"})
	require.NoError(t, r.Promote(a, "c1", PromoteOptions{Weight: 0.7, EraBin: "1980s"}))
	require.NoError(t, r.RejectCandidate(a, "c2", ""))
	require.NoError(t, r.Confirm(b, ""))
	_, err := r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Save(path, filepath.Join(dir, "backups")))

	loaded, err := Load(path)
	require.NoError(t, err)

	want, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)
	got, err := json.Marshal(loaded.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	// Undo still works against the reloaded log.
	res, err := loaded.UndoMerge(b, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

// replayOps runs a fixed mixed sequence of operations on r.
func replayOps(t *testing.T, r *Registry) {
	t.Helper()
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}, CandidateIDs: []string{"c1", "c2", "c3"}})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}, Name: "Dorothy Vaughan"})
	c := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fc"}})
	require.NoError(t, r.Promote(a, "c1", PromoteOptions{Weight: 0.6}))
	require.NoError(t, r.RejectCandidate(a, "c2", ""))
	require.NoError(t, r.Confirm(a, ""))
	require.NoError(t, r.Contest(a, "disputed", ""))
	_, err := r.Undo(a, "")
	require.NoError(t, err)
	require.NoError(t, r.RejectIdentityPair(b, c, ""))
	_, err = r.Rename(c, "  Mary Jackson ", "")
	require.NoError(t, err)
	res, err := r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
	_, err = r.Detach(res.TargetID, "c3", "")
	require.NoError(t, err)
}

func TestReplayMatchesLoadedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	saved := newTestRegistry(t)
	replayOps(t, saved)
	require.NoError(t, saved.Save(path, ""))
	loaded, err := Load(path)
	require.NoError(t, err)

	replayed := newTestRegistry(t)
	replayOps(t, replayed)

	want, err := json.Marshal(replayed.Snapshot())
	require.NoError(t, err)
	got, err := json.Marshal(loaded.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Equal(t, replayed.EventCount(), loaded.EventCount())
	for _, ident := range replayed.List(ListOptions{IncludeMerged: true}) {
		assert.Equal(t, ident.Version, mustGet(t, loaded, ident.ID).Version, ident.ID)
	}
}

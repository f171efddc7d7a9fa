package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facereg/internal/fusion"
	"github.com/your-org/facereg/internal/models"
	"github.com/your-org/facereg/internal/registry"
	"github.com/your-org/facereg/internal/service"
	"github.com/your-org/facereg/pkg/dto"
)

type memoryFaces struct {
	mu     sync.Mutex
	photos map[string]string
	fail   error
}

func (m *memoryFaces) PutFace(_ context.Context, faceID, photoID string, _ fusion.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.photos == nil {
		m.photos = make(map[string]string)
	}
	m.photos[faceID] = photoID
	return nil
}

// fakeMsg satisfies jetstream.Msg for the calls HandleMessage makes.
type fakeMsg struct {
	jetstream.Msg
	data []byte
}

func (m fakeMsg) Data() []byte    { return m.data }
func (m fakeMsg) Subject() string { return "proposals.job-1" }

func newIngestor(t *testing.T, faces FaceWriter) (*ProposalIngestor, *service.IdentityService) {
	t.Helper()
	dir := t.TempDir()
	svc := service.New(filepath.Join(dir, "identities.json"), "", nil)
	return NewProposalIngestor(svc, faces), svc
}

func proposal() dto.ClusterProposal {
	return dto.ClusterProposal{
		ProposalID:       "p-1",
		JobID:            "job-1",
		AnchorFaceIDs:    []string{"f1", "f2"},
		CandidateFaceIDs: []string{"c1"},
		Name:             "Unidentified Person 4",
		Faces: []dto.FaceObservation{
			{FaceID: "f1", PhotoID: "ph1", Mu: []float32{1, 0}, SigmaSq: []float32{0.1, 0.1}},
		},
	}
}

func TestIngest_CreatesInboxIdentity(t *testing.T) {
	faces := &memoryFaces{}
	ing, svc := newIngestor(t, faces)

	id, err := ing.Ingest(context.Background(), proposal())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "ph1"}, faces.photos)

	require.NoError(t, svc.Read(func(r *registry.Registry) error {
		ident, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.StateInbox, ident.State)
		assert.Equal(t, "job-1", ident.JobID())
		assert.Equal(t, "p-1", ident.Provenance[ProvenanceProposalID])
		assert.Equal(t, []string{"c1"}, ident.Candidates)
		assert.Equal(t, "Unidentified Person 4", ident.Name)

		history, err := r.History(id)
		require.NoError(t, err)
		assert.Equal(t, WorkerUser, history[0].UserSource)
		return nil
	}))
}

func TestIngest_RedeliveryIsIdempotent(t *testing.T) {
	ing, svc := newIngestor(t, nil)

	first, err := ing.Ingest(context.Background(), proposal())
	require.NoError(t, err)
	second, err := ing.Ingest(context.Background(), proposal())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, svc.Read(func(r *registry.Registry) error {
		assert.Len(t, r.ListByJob("job-1"), 1)
		assert.Equal(t, 1, r.EventCount())
		return nil
	}))
}

func TestIngest_InvalidProposals(t *testing.T) {
	ing, _ := newIngestor(t, nil)

	noJob := proposal()
	noJob.JobID = ""
	_, err := ing.Ingest(context.Background(), noJob)
	require.ErrorIs(t, err, ErrInvalidProposal)

	noAnchors := proposal()
	noAnchors.AnchorFaceIDs = nil
	_, err = ing.Ingest(context.Background(), noAnchors)
	require.ErrorIs(t, err, ErrInvalidProposal)

	badFace := proposal()
	badFace.Faces[0].SigmaSq = []float32{0.1}
	_, err = ing.Ingest(context.Background(), badFace)
	require.ErrorIs(t, err, ErrInvalidProposal)
}

func TestIngest_FaceWriterFailureCreatesNothing(t *testing.T) {
	ing, svc := newIngestor(t, &memoryFaces{fail: errors.New("db down")})

	_, err := ing.Ingest(context.Background(), proposal())
	require.Error(t, err)
	require.NoError(t, svc.Read(func(r *registry.Registry) error {
		assert.Zero(t, r.EventCount())
		return nil
	}))
}

func TestIngest_WrongEmbeddingWidthIsInvalid(t *testing.T) {
	faces := &memoryFaces{fail: fmt.Errorf("put face f1: %w", fusion.ErrDimensionMismatch)}
	ing, svc := newIngestor(t, faces)

	_, err := ing.Ingest(context.Background(), proposal())
	require.ErrorIs(t, err, ErrInvalidProposal)
	require.ErrorIs(t, err, fusion.ErrDimensionMismatch)

	data, err := json.Marshal(proposal())
	require.NoError(t, err)
	require.NoError(t, ing.HandleMessage(context.Background(), fakeMsg{data: data}), "acked, not redelivered")
	require.NoError(t, svc.Read(func(r *registry.Registry) error {
		assert.Zero(t, r.EventCount())
		return nil
	}))
}

func TestHandleMessage(t *testing.T) {
	ing, svc := newIngestor(t, nil)

	require.NoError(t, ing.HandleMessage(context.Background(), fakeMsg{data: []byte("{not json")}), "malformed messages are acked")
	require.NoError(t, ing.HandleMessage(context.Background(), fakeMsg{data: []byte(`{"job_id":"job-1"}`)}), "invalid proposals are acked")
	require.NoError(t, ing.HandleMessage(context.Background(), fakeMsg{data: []byte(`{"proposal_id":"p-9","job_id":"job-1","anchor_face_ids":["f1"]}`)}))

	require.NoError(t, svc.Read(func(r *registry.Registry) error {
		assert.Len(t, r.ListByJob("job-1"), 1)
		return nil
	}))
}

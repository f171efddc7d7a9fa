package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/your-org/facereg/internal/fusion"
)

func drawEmbedding(t *rapid.T, label string) fusion.Embedding {
	e := fusion.Embedding{Mu: make([]float32, testDim), SigmaSq: make([]float32, testDim)}
	for d := 0; d < testDim; d++ {
		e.Mu[d] = rapid.Float32Range(-1, 1).Draw(t, label+"_mu")
		e.SigmaSq[d] = rapid.Float32Range(0.01, 1).Draw(t, label+"_sigma")
	}
	return e
}

func requireSameEmbedding(t require.TestingT, want, got fusion.Embedding) {
	require.Len(t, got.Mu, len(want.Mu))
	for d := range want.Mu {
		require.InDelta(t, want.Mu[d], got.Mu[d], 1e-6)
		require.InDelta(t, want.SigmaSq[d], got.SigmaSq[d], 1e-6)
	}
}

func TestUndo_RestoresFusedEmbedding(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := fusion.NewMemoryStore()
		for _, f := range []string{"A", "B", "C", "D"} {
			store.Put(f, drawEmbedding(t, f))
		}
		r := New(WithIDGenerator(sequentialIDs()), WithClock(steppingClock()))
		id, err := r.Create(CreateParams{AnchorIDs: []string{"A"}, CandidateIDs: []string{"B", "C", "D"}})
		require.NoError(t, err)

		fused := func() fusion.Embedding {
			ident, err := r.Get(id)
			require.NoError(t, err)
			e, err := fusion.FuseAnchors(context.Background(), store, ident.Anchors)
			require.NoError(t, err)
			return e
		}
		before := fused()

		for _, f := range []string{"B", "C", "D"} {
			w := rapid.Float64Range(0.1, 2).Draw(t, "weight_"+f)
			require.NoError(t, r.Promote(id, f, PromoteOptions{Weight: w}))
		}
		for i := 0; i < 3; i++ {
			_, err := r.Undo(id, "")
			require.NoError(t, err)
		}

		requireSameEmbedding(t, before, fused())
		require.Equal(t, []string{"B", "C", "D"}, mustGetRapid(t, r, id).Candidates)
	})
}

func TestRejectCandidate_DoesNotAffectFusion(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := fusion.NewMemoryStore()
		for _, f := range []string{"A", "B", "X"} {
			store.Put(f, drawEmbedding(t, f))
		}

		with := New(WithIDGenerator(sequentialIDs()), WithClock(steppingClock()))
		id, err := with.Create(CreateParams{AnchorIDs: []string{"A", "B"}, CandidateIDs: []string{"X"}})
		require.NoError(t, err)
		require.NoError(t, with.RejectCandidate(id, "X", ""))

		without := New(WithIDGenerator(sequentialIDs()), WithClock(steppingClock()))
		baseline, err := without.Create(CreateParams{AnchorIDs: []string{"A", "B"}})
		require.NoError(t, err)

		got, err := fusion.FuseAnchors(context.Background(), store, mustGetRapid(t, with, id).Anchors)
		require.NoError(t, err)
		want, err := fusion.FuseAnchors(context.Background(), store, mustGetRapid(t, without, baseline).Anchors)
		require.NoError(t, err)
		requireSameEmbedding(t, want, got)
		require.Contains(t, mustGetRapid(t, with, id).Negatives, "X")
	})
}

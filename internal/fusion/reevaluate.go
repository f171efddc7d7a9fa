package fusion

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/your-org/facereg/internal/models"
)

// EmbeddingStore returns the immutable embedding of a face.
type EmbeddingStore interface {
	Get(ctx context.Context, faceID string) (Embedding, error)
}

// AnchorEmbeddings loads every anchor's embedding in anchor order, carrying
// the anchor's weight. A weighted anchor's era bin overrides the stored one.
func AnchorEmbeddings(ctx context.Context, store EmbeddingStore, anchors []models.Anchor) ([]WeightedEmbedding, error) {
	out := make([]WeightedEmbedding, 0, len(anchors))
	for _, a := range anchors {
		emb, err := store.Get(ctx, a.FaceID)
		if err != nil {
			return nil, fmt.Errorf("load embedding %s: %w", a.FaceID, err)
		}
		if a.EraBin != "" {
			emb.EraBin = a.EraBin
		}
		out = append(out, WeightedEmbedding{Embedding: emb, Weight: a.Weight()})
	}
	return out, nil
}

// FuseAnchors loads and fuses an identity's anchors.
func FuseAnchors(ctx context.Context, store EmbeddingStore, anchors []models.Anchor) (Embedding, error) {
	if len(anchors) == 0 {
		return Embedding{}, ErrNoAnchors
	}
	embs, err := AnchorEmbeddings(ctx, store, anchors)
	if err != nil {
		return Embedding{}, err
	}
	return Fuse(embs)
}

// DefaultEraMismatchPenalty scales the score of a face whose era bin matches
// none of the anchors' era bins.
const DefaultEraMismatchPenalty = 0.85

// ReevaluationOptions tunes ReevaluationCandidates.
type ReevaluationOptions struct {
	EraMismatchPenalty float64
	Limit              int
}

// ReevaluationCandidate is a previously rejected face re-scored against the
// current fused anchor.
type ReevaluationCandidate struct {
	FaceID      string  `json:"face_id"`
	Score       float64 `json:"score"`
	Similarity  float64 `json:"similarity"`
	EraBin      string  `json:"era_bin,omitempty"`
	EraMismatch bool    `json:"era_mismatch"`
}

// ReevaluationCandidates re-scores the identity's rejected faces against its
// current fused anchor and returns them best first. The result is for human
// review only; this function never changes any identity.
func ReevaluationCandidates(ctx context.Context, store EmbeddingStore, identity *models.Identity, opts ReevaluationOptions) ([]ReevaluationCandidate, error) {
	if opts.EraMismatchPenalty <= 0 {
		opts.EraMismatchPenalty = DefaultEraMismatchPenalty
	}

	anchors, err := AnchorEmbeddings(ctx, store, identity.Anchors)
	if err != nil {
		return nil, err
	}
	fused, err := Fuse(anchors)
	if err != nil {
		return nil, err
	}

	eras := make(map[string]bool)
	for _, a := range anchors {
		if a.EraBin != "" {
			eras[a.EraBin] = true
		}
	}

	var out []ReevaluationCandidate
	for _, neg := range identity.Negatives {
		if models.IsIdentityNegative(neg) {
			continue
		}
		emb, err := store.Get(ctx, neg)
		if err != nil {
			return nil, fmt.Errorf("load embedding %s: %w", neg, err)
		}
		if emb.Dim() != fused.Dim() || len(emb.SigmaSq) != fused.Dim() {
			return nil, fmt.Errorf("negative %s: %w", neg, ErrDimensionMismatch)
		}
		c := ReevaluationCandidate{
			FaceID:     neg,
			Similarity: uncertaintyCosine(fused, emb),
			EraBin:     emb.EraBin,
		}
		c.Score = c.Similarity
		if emb.EraBin != "" && len(eras) > 0 && !eras[emb.EraBin] {
			c.EraMismatch = true
			c.Score *= opts.EraMismatchPenalty
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].FaceID < out[j].FaceID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// uncertaintyCosine is the cosine similarity of the two means with each
// dimension down-weighted by the combined variance of both observations.
func uncertaintyCosine(a, b Embedding) float64 {
	var dot, na, nb float64
	for d := range a.Mu {
		w := 1 / (float64(a.SigmaSq[d]) + float64(b.SigmaSq[d]))
		x, y := float64(a.Mu[d]), float64(b.Mu[d])
		dot += w * x * y
		na += w * x * x
		nb += w * y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

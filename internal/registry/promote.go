package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/your-org/facereg/internal/fusion"
	"github.com/your-org/facereg/internal/models"
	"github.com/your-org/facereg/internal/observability"
)

// ReasonVarianceExplosion is reported when a promotion would make the fused
// embedding unreliable.
const ReasonVarianceExplosion = "variance_explosion"

type PromoteResult struct {
	Promoted bool                 `json:"promoted"`
	Reason   string               `json:"reason,omitempty"`
	Check    fusion.VarianceCheck `json:"check"`
	// Contested is true when the refused promotion moved the identity to CONTESTED.
	Contested bool `json:"contested"`
	// Reevaluate is true when the promotion shrank mean variance enough that
	// rejected faces deserve another look.
	Reevaluate bool `json:"reevaluate"`
}

// SafePromoteCandidate runs the variance-explosion check on the current
// anchors plus faceID before promoting it. A failed check leaves the anchors
// untouched and contests the identity (unless it already is CONTESTED).
func (r *Registry) SafePromoteCandidate(ctx context.Context, store fusion.EmbeddingStore, id, faceID string, k float64, opts PromoteOptions) (PromoteResult, error) {
	ident, err := r.lookupActive(id)
	if err != nil {
		return PromoteResult{}, err
	}
	if !ident.HasCandidate(faceID) {
		return PromoteResult{}, fmt.Errorf("face %s is not a candidate of identity %s: %w", faceID, id, ErrNotFound)
	}
	anchor, err := opts.anchor(faceID)
	if err != nil {
		return PromoteResult{}, err
	}
	if k <= 0 {
		k = fusion.DefaultVarianceK
	}

	current, err := fusion.AnchorEmbeddings(ctx, store, ident.Anchors)
	if err != nil {
		return PromoteResult{}, err
	}
	hypothetical, err := fusion.AnchorEmbeddings(ctx, store, append(slices.Clone(ident.Anchors), anchor))
	if err != nil {
		return PromoteResult{}, err
	}
	check, err := fusion.CheckVarianceExplosion(hypothetical, k)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("variance check: %w", err)
	}
	observability.MahalanobisDistance.Observe(check.MeanMahalanobisSq)

	if !check.Safe {
		observability.VarianceChecks.WithLabelValues("unsafe").Inc()
		slog.Warn("promotion refused",
			"identity_id", id,
			"face_id", faceID,
			"mean_mahalanobis_sq", check.MeanMahalanobisSq,
			"k", k,
		)
		res := PromoteResult{Reason: ReasonVarianceExplosion, Check: check}
		if ident.State != models.StateContested {
			reason := fmt.Sprintf("%s: face %s (mean mahalanobis² %s > %s)", ReasonVarianceExplosion, faceID,
				strconv.FormatFloat(check.MeanMahalanobisSq, 'g', 4, 64), strconv.FormatFloat(k, 'g', 4, 64))
			if err := r.Contest(id, reason, opts.User); err != nil {
				return res, err
			}
			res.Contested = true
		}
		return res, nil
	}
	observability.VarianceChecks.WithLabelValues("safe").Inc()

	if err := r.Promote(id, faceID, opts); err != nil {
		return PromoteResult{}, err
	}
	res := PromoteResult{Promoted: true, Check: check}
	if len(current) > 0 {
		before, err := fusion.Fuse(current)
		if err != nil {
			return res, fmt.Errorf("fuse current anchors: %w", err)
		}
		after, err := fusion.Fuse(hypothetical)
		if err != nil {
			return res, fmt.Errorf("fuse promoted anchors: %w", err)
		}
		threshold := opts.ReevaluateThreshold
		if threshold <= 0 {
			threshold = fusion.DefaultReevaluateThreshold
		}
		res.Reevaluate = fusion.ShouldReevaluate(before.SigmaSq, after.SigmaSq, threshold)
	}
	return res, nil
}

// ReevaluationCandidates re-scores the identity's rejected faces for human
// review. It never changes the registry.
func (r *Registry) ReevaluationCandidates(ctx context.Context, store fusion.EmbeddingStore, id string, opts fusion.ReevaluationOptions) ([]fusion.ReevaluationCandidate, error) {
	ident, err := r.lookupActive(id)
	if err != nil {
		return nil, err
	}
	if len(ident.Anchors) == 0 {
		return nil, fmt.Errorf("identity %s: %w", id, fusion.ErrNoAnchors)
	}
	out, err := fusion.ReevaluationCandidates(ctx, store, ident, opts)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []fusion.ReevaluationCandidate{}
	}
	return out, nil
}

// Package fusion combines probabilistic face embeddings (mean μ, per-dimension
// variance σ²) by inverse-variance weighting and guards against fusing faces
// that do not belong together.
package fusion

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNoAnchors         = errors.New("no anchors to fuse")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidVariance   = errors.New("variance must be positive and finite")
	ErrInvalidWeight     = errors.New("weight must be positive and finite")
)

// DefaultVarianceK is the default mean squared Mahalanobis threshold.
const DefaultVarianceK = 1.5

// Embedding is one probabilistic face embedding. Embeddings are read-only:
// nothing in this package writes into Mu or SigmaSq.
type Embedding struct {
	Mu      []float32
	SigmaSq []float32
	EraBin  string
}

// Dim returns the embedding dimensionality.
func (e Embedding) Dim() int {
	return len(e.Mu)
}

// MeanVariance averages σ² over all dimensions.
func (e Embedding) MeanVariance() float64 {
	if len(e.SigmaSq) == 0 {
		return 0
	}
	var sum float64
	for _, v := range e.SigmaSq {
		sum += float64(v)
	}
	return sum / float64(len(e.SigmaSq))
}

// WeightedEmbedding is an anchor's embedding paired with its confidence weight.
type WeightedEmbedding struct {
	Embedding
	Weight float64
}

func validate(anchors []WeightedEmbedding) error {
	if len(anchors) == 0 {
		return ErrNoAnchors
	}
	dim := anchors[0].Dim()
	for i, a := range anchors {
		if a.Dim() != dim || len(a.SigmaSq) != dim {
			return fmt.Errorf("anchor %d: %w (mu=%d sigma_sq=%d, want %d)", i, ErrDimensionMismatch, len(a.Mu), len(a.SigmaSq), dim)
		}
		if a.Weight <= 0 || math.IsNaN(a.Weight) || math.IsInf(a.Weight, 0) {
			return fmt.Errorf("anchor %d: %w (got %v)", i, ErrInvalidWeight, a.Weight)
		}
		for d, v := range a.SigmaSq {
			if !(v > 0) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("anchor %d dim %d: %w (got %v)", i, d, ErrInvalidVariance, v)
			}
		}
	}
	return nil
}

// Fuse combines anchors by per-dimension inverse-variance weighting:
//
//	precision_i = weight_i / σ²_i
//	μ = Σ μ_i·precision_i / Σ precision_i
//	σ² = 1 / Σ precision_i
//
// A single anchor is returned unchanged. Sums accumulate in float64 in input
// order so results are deterministic.
func Fuse(anchors []WeightedEmbedding) (Embedding, error) {
	if err := validate(anchors); err != nil {
		return Embedding{}, err
	}
	if len(anchors) == 1 {
		return copyEmbedding(anchors[0].Embedding), nil
	}

	dim := anchors[0].Dim()
	out := Embedding{
		Mu:      make([]float32, dim),
		SigmaSq: make([]float32, dim),
	}
	for d := 0; d < dim; d++ {
		var precisionSum, weightedMu float64
		for _, a := range anchors {
			p := a.Weight / float64(a.SigmaSq[d])
			precisionSum += p
			weightedMu += float64(a.Mu[d]) * p
		}
		out.Mu[d] = float32(weightedMu / precisionSum)
		out.SigmaSq[d] = float32(1 / precisionSum)
	}
	return out, nil
}

func copyEmbedding(e Embedding) Embedding {
	return Embedding{
		Mu:      append([]float32(nil), e.Mu...),
		SigmaSq: append([]float32(nil), e.SigmaSq...),
		EraBin:  e.EraBin,
	}
}

// VarianceCheck is the outcome of CheckVarianceExplosion.
type VarianceCheck struct {
	Safe bool `json:"safe"`
	// MeanMahalanobisSq is the average over anchors of Σ_d (μ_i − μ)² / σ²_i.
	MeanMahalanobisSq float64   `json:"mean_mahalanobis_sq"`
	PerAnchor         []float64 `json:"per_anchor"`
	Threshold         float64   `json:"threshold"`
	FusedMeanVariance float64   `json:"fused_mean_variance"`
	AnchorCount       int       `json:"anchor_count"`
}

// CheckVarianceExplosion fuses anchors and measures how far the fused mean
// sits from each input in that input's own variance units. The set is unsafe
// when the average squared Mahalanobis distance exceeds k; smaller k is stricter.
func CheckVarianceExplosion(anchors []WeightedEmbedding, k float64) (VarianceCheck, error) {
	fused, err := Fuse(anchors)
	if err != nil {
		return VarianceCheck{}, err
	}

	check := VarianceCheck{
		PerAnchor:         make([]float64, len(anchors)),
		Threshold:         k,
		FusedMeanVariance: fused.MeanVariance(),
		AnchorCount:       len(anchors),
	}
	var total float64
	for i, a := range anchors {
		var dist float64
		for d := range a.Mu {
			diff := float64(a.Mu[d]) - float64(fused.Mu[d])
			dist += diff * diff / float64(a.SigmaSq[d])
		}
		check.PerAnchor[i] = dist
		total += dist
	}
	check.MeanMahalanobisSq = total / float64(len(anchors))
	check.Safe = check.MeanMahalanobisSq <= k
	return check, nil
}

// DefaultReevaluateThreshold is the relative variance shrink that triggers re-scoring.
const DefaultReevaluateThreshold = 0.10

// ShouldReevaluate reports whether the mean variance shrank by more than
// threshold (relative), which means earlier rejections deserve another look.
func ShouldReevaluate(oldSigmaSq, newSigmaSq []float32, threshold float64) bool {
	oldMean := Embedding{SigmaSq: oldSigmaSq}.MeanVariance()
	newMean := Embedding{SigmaSq: newSigmaSq}.MeanVariance()
	if oldMean <= 0 {
		return false
	}
	return (oldMean-newMean)/oldMean > threshold
}

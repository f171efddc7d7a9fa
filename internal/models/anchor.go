package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultAnchorWeight is the confidence weight of a bare anchor.
const DefaultAnchorWeight = 1.0

// Anchor is a face reference contributing to an identity's fused embedding.
// It is either bare (just a face id) or weighted (face id, weight, optional era bin).
// Bare anchors serialize as a JSON string, weighted ones as an object.
type Anchor struct {
	FaceID   string
	EraBin   string
	weight   float64
	weighted bool
}

// BareAnchor returns an anchor that carries only a face id.
func BareAnchor(faceID string) Anchor {
	return Anchor{FaceID: faceID}
}

// WeightedAnchor returns a structured anchor with an explicit confidence weight.
func WeightedAnchor(faceID string, weight float64, eraBin string) Anchor {
	return Anchor{FaceID: faceID, EraBin: eraBin, weight: weight, weighted: true}
}

// Weight returns the anchor's confidence weight (1.0 for bare anchors).
func (a Anchor) Weight() float64 {
	if !a.weighted {
		return DefaultAnchorWeight
	}
	return a.weight
}

// IsWeighted reports whether the anchor is a structured record.
func (a Anchor) IsWeighted() bool {
	return a.weighted
}

type weightedAnchorJSON struct {
	FaceID string   `json:"face_id"`
	Weight *float64 `json:"weight,omitempty"`
	EraBin string   `json:"era_bin,omitempty"`
}

func (a Anchor) MarshalJSON() ([]byte, error) {
	if !a.weighted {
		return json.Marshal(a.FaceID)
	}
	w := a.weight
	return json.Marshal(weightedAnchorJSON{FaceID: a.FaceID, Weight: &w, EraBin: a.EraBin})
}

func (a *Anchor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var faceID string
		if err := json.Unmarshal(data, &faceID); err != nil {
			return fmt.Errorf("decode bare anchor: %w", err)
		}
		*a = BareAnchor(faceID)
		return nil
	}

	var raw weightedAnchorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode weighted anchor: %w", err)
	}
	if raw.FaceID == "" {
		return fmt.Errorf("decode weighted anchor: missing face_id")
	}
	w := DefaultAnchorWeight
	if raw.Weight != nil {
		w = *raw.Weight
	}
	*a = WeightedAnchor(raw.FaceID, w, raw.EraBin)
	return nil
}

// AnchorFaceIDs returns the face ids of anchors in order.
func AnchorFaceIDs(anchors []Anchor) []string {
	ids := make([]string, 0, len(anchors))
	for _, a := range anchors {
		ids = append(ids, a.FaceID)
	}
	return ids
}

package dto

import (
	"time"

	"github.com/your-org/facereg/internal/models"
)

type CreateIdentityRequest struct {
	AnchorIDs    []string          `json:"anchor_ids" binding:"required,min=1"`
	CandidateIDs []string          `json:"candidate_ids"`
	Name         string            `json:"name"`
	State        string            `json:"state"`
	Provenance   map[string]string `json:"provenance"`
}

type CreateIdentityResponse struct {
	ID string `json:"identity_id"`
}

type RenameRequest struct {
	Name string `json:"name" binding:"required"`
}

type RenameResponse struct {
	ID           string `json:"identity_id"`
	PreviousName string `json:"previous_name"`
	Name         string `json:"name"`
}

type ContestRequest struct {
	Reason string `json:"reason"`
}

type PromoteRequest struct {
	Weight float64 `json:"weight"`
	EraBin string  `json:"era_bin"`
	// Safe runs the variance-explosion check first. It needs an embedding store.
	Safe bool `json:"safe"`
}

type MergeRequest struct {
	SourceID        string `json:"source_id" binding:"required"`
	ResolvedName    string `json:"resolved_name"`
	ManualDirection bool   `json:"manual_direction"`
}

type RejectPairRequest struct {
	OtherID string `json:"other_id" binding:"required"`
}

type DetachResponse struct {
	ID    string `json:"identity_id"`
	NewID string `json:"new_identity_id"`
}

type AnchorResponse struct {
	FaceID string  `json:"face_id"`
	Weight float64 `json:"weight"`
	EraBin string  `json:"era_bin,omitempty"`
}

type IdentityResponse struct {
	ID         string            `json:"identity_id"`
	Name       string            `json:"name"`
	State      models.State      `json:"state"`
	Anchors    []AnchorResponse  `json:"anchors"`
	Candidates []string          `json:"candidate_ids"`
	Negatives  []string          `json:"negative_ids"`
	FaceCount  int               `json:"face_count"`
	Version    int               `json:"version_id"`
	MergedInto string            `json:"merged_into,omitempty"`
	MergeCount int               `json:"merge_count"`
	Provenance map[string]string `json:"provenance,omitempty"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
}

type HistoryResponse struct {
	IdentityID string         `json:"identity_id"`
	Events     []models.Event `json:"events"`
}

func NewIdentityResponse(i *models.Identity) IdentityResponse {
	anchors := make([]AnchorResponse, 0, len(i.Anchors))
	for _, a := range i.Anchors {
		anchors = append(anchors, AnchorResponse{FaceID: a.FaceID, Weight: a.Weight(), EraBin: a.EraBin})
	}
	return IdentityResponse{
		ID:         i.ID,
		Name:       i.Name,
		State:      i.State,
		Anchors:    anchors,
		Candidates: nonNil(i.Candidates),
		Negatives:  nonNil(i.Negatives),
		FaceCount:  i.FaceCount(),
		Version:    i.Version,
		MergedInto: i.MergedInto,
		MergeCount: len(i.MergeHistory),
		Provenance: i.Provenance,
		CreatedAt:  i.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  i.UpdatedAt.Format(time.RFC3339),
	}
}

func NewIdentityList(idents []*models.Identity) IdentityListResponse {
	resp := IdentityListResponse{Identities: make([]IdentityResponse, 0, len(idents))}
	for _, i := range idents {
		resp.Identities = append(resp.Identities, NewIdentityResponse(i))
	}
	resp.Total = len(resp.Identities)
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package dto

// FaceObservation carries a face's embedding so the worker can store it
// before the identity that references it is created.
type FaceObservation struct {
	FaceID  string    `json:"face_id"`
	PhotoID string    `json:"photo_id"`
	Mu      []float32 `json:"mu"`
	SigmaSq []float32 `json:"sigma_sq"`
	EraBin  string    `json:"era_bin,omitempty"`
}

// ClusterProposal is one cluster emitted by the clustering pipeline on
// proposals.<job_id>.
type ClusterProposal struct {
	ProposalID       string            `json:"proposal_id"`
	JobID            string            `json:"job_id"`
	AnchorFaceIDs    []string          `json:"anchor_face_ids"`
	CandidateFaceIDs []string          `json:"candidate_face_ids"`
	Name             string            `json:"name,omitempty"`
	Faces            []FaceObservation `json:"faces,omitempty"`
}

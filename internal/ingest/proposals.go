// Package ingest turns cluster proposals from the clustering pipeline into
// INBOX identities.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facereg/internal/fusion"
	"github.com/your-org/facereg/internal/models"
	"github.com/your-org/facereg/internal/observability"
	"github.com/your-org/facereg/internal/registry"
	"github.com/your-org/facereg/internal/service"
	"github.com/your-org/facereg/pkg/dto"
)

// ProvenanceProposalID records which proposal created an identity, so a
// redelivered message does not create a second one.
const ProvenanceProposalID = "proposal_id"

// WorkerUser is recorded as user_source on identities created from proposals.
const WorkerUser = "clustering"

var ErrInvalidProposal = errors.New("invalid proposal")

// FaceWriter stores face embeddings and their photo.
type FaceWriter interface {
	PutFace(ctx context.Context, faceID, photoID string, emb fusion.Embedding) error
}

type ProposalIngestor struct {
	svc   *service.IdentityService
	faces FaceWriter
}

// NewProposalIngestor returns an ingestor. faces may be nil, in which case
// embeddings attached to proposals are ignored.
func NewProposalIngestor(svc *service.IdentityService, faces FaceWriter) *ProposalIngestor {
	return &ProposalIngestor{svc: svc, faces: faces}
}

// HandleMessage is a queue.MessageHandler. Malformed messages are dropped
// (acked) because redelivery cannot fix them.
func (p *ProposalIngestor) HandleMessage(ctx context.Context, msg jetstream.Msg) error {
	var proposal dto.ClusterProposal
	if err := json.Unmarshal(msg.Data(), &proposal); err != nil {
		observability.ProposalsIngested.WithLabelValues("malformed").Inc()
		slog.Error("unmarshal proposal", "subject", msg.Subject(), "error", err)
		return nil
	}
	_, err := p.Ingest(ctx, proposal)
	if errors.Is(err, ErrInvalidProposal) {
		slog.Error("drop invalid proposal", "proposal_id", proposal.ProposalID, "error", err)
		return nil
	}
	return err
}

// Ingest stores the proposal's embeddings, then creates an INBOX identity
// tagged with the job id. It returns the identity id; a proposal seen before
// returns the id of the identity it created the first time.
func (p *ProposalIngestor) Ingest(ctx context.Context, proposal dto.ClusterProposal) (string, error) {
	if err := validate(proposal); err != nil {
		observability.ProposalsIngested.WithLabelValues("invalid").Inc()
		return "", err
	}

	if p.faces != nil {
		for _, f := range proposal.Faces {
			emb := fusion.Embedding{Mu: f.Mu, SigmaSq: f.SigmaSq, EraBin: f.EraBin}
			if err := p.faces.PutFace(ctx, f.FaceID, f.PhotoID, emb); err != nil {
				// A width the store cannot hold will never succeed on redelivery.
				if errors.Is(err, fusion.ErrDimensionMismatch) {
					observability.ProposalsIngested.WithLabelValues("invalid").Inc()
					return "", fmt.Errorf("%w: store face %s: %w", ErrInvalidProposal, f.FaceID, err)
				}
				observability.ProposalsIngested.WithLabelValues("error").Inc()
				return "", fmt.Errorf("store face %s: %w", f.FaceID, err)
			}
		}
	}

	var id string
	duplicate := false
	err := p.svc.Mutate(func(r *registry.Registry) error {
		if proposal.ProposalID != "" {
			for _, ident := range r.ListByJob(proposal.JobID) {
				if ident.Provenance[ProvenanceProposalID] == proposal.ProposalID {
					id, duplicate = ident.ID, true
					return nil
				}
			}
		}
		provenance := map[string]string{models.ProvenanceJobID: proposal.JobID}
		if proposal.ProposalID != "" {
			provenance[ProvenanceProposalID] = proposal.ProposalID
		}
		var err error
		id, err = r.Create(registry.CreateParams{
			AnchorIDs:    proposal.AnchorFaceIDs,
			CandidateIDs: proposal.CandidateFaceIDs,
			Name:         proposal.Name,
			State:        models.StateInbox,
			Provenance:   provenance,
			User:         WorkerUser,
		})
		return err
	})
	if err != nil {
		observability.ProposalsIngested.WithLabelValues("error").Inc()
		return "", fmt.Errorf("create identity for job %s: %w", proposal.JobID, err)
	}

	if duplicate {
		observability.ProposalsIngested.WithLabelValues("duplicate").Inc()
		slog.Info("proposal already ingested", "proposal_id", proposal.ProposalID, "identity_id", id)
		return id, nil
	}
	observability.ProposalsIngested.WithLabelValues("created").Inc()
	slog.Info("proposal ingested",
		"job_id", proposal.JobID,
		"identity_id", id,
		"anchors", len(proposal.AnchorFaceIDs),
		"candidates", len(proposal.CandidateFaceIDs),
	)
	return id, nil
}

func validate(p dto.ClusterProposal) error {
	if p.JobID == "" {
		return fmt.Errorf("%w: missing job_id", ErrInvalidProposal)
	}
	if len(p.AnchorFaceIDs) == 0 {
		return fmt.Errorf("%w: proposal %s has no anchors", ErrInvalidProposal, p.ProposalID)
	}
	for _, f := range p.Faces {
		if f.FaceID == "" || f.PhotoID == "" {
			return fmt.Errorf("%w: face observation without face_id or photo_id", ErrInvalidProposal)
		}
		if len(f.Mu) == 0 || len(f.Mu) != len(f.SigmaSq) {
			return fmt.Errorf("%w: face %s has mu=%d sigma_sq=%d", ErrInvalidProposal, f.FaceID, len(f.Mu), len(f.SigmaSq))
		}
	}
	return nil
}

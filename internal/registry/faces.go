package registry

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/your-org/facereg/internal/models"
)

// MaxNameLength is the longest name kept by Rename; longer names are truncated.
const MaxNameLength = 100

// CreateParams describes a new identity.
type CreateParams struct {
	AnchorIDs    []string
	CandidateIDs []string
	Name         string
	// State defaults to PROPOSED; ingestion pipelines pass INBOX.
	State      models.State
	Provenance map[string]string
	User       string
}

// Create adds an identity and returns its id. Duplicate face ids are dropped
// and a face given as both anchor and candidate stays an anchor only.
func (r *Registry) Create(p CreateParams) (string, error) {
	state := p.State
	if state == "" {
		state = models.StateProposed
	}
	if !slices.Contains(models.States, state) {
		return "", fmt.Errorf("%w: unknown state %q", ErrValidation, state)
	}

	anchors := make([]models.Anchor, 0, len(p.AnchorIDs))
	for _, id := range dedupe(p.AnchorIDs) {
		anchors = append(anchors, models.BareAnchor(id))
	}
	candidates := make([]string, 0, len(p.CandidateIDs))
	for _, id := range dedupe(p.CandidateIDs) {
		if !slices.Contains(p.AnchorIDs, id) {
			candidates = append(candidates, id)
		}
	}

	var provenance map[string]string
	if len(p.Provenance) > 0 {
		provenance = make(map[string]string, len(p.Provenance))
		for k, v := range p.Provenance {
			provenance[k] = v
		}
	}

	ident := &models.Identity{
		ID:         r.newID(),
		Name:       strings.TrimSpace(p.Name),
		State:      state,
		Anchors:    anchors,
		Candidates: candidates,
		Negatives:  []string{},
		Provenance: provenance,
	}
	r.insert(ident, p.User, nil)
	return ident.ID, nil
}

// insert registers a fresh identity at version 0 and records its CREATE event.
func (r *Registry) insert(ident *models.Identity, user string, extra map[string]string) {
	now := r.now()
	ident.CreatedAt = now
	ident.Version = 0
	if ident.MergeHistory == nil {
		ident.MergeHistory = []models.MergeHistoryEntry{}
	}
	r.identities[ident.ID] = ident

	meta := map[string]string{models.MetaNewState: string(ident.State)}
	if ident.Name != "" {
		meta[models.MetaNewName] = ident.Name
	}
	for k, v := range extra {
		meta[k] = v
	}
	r.commit(ident, eventSpec{action: models.ActionCreate, faceIDs: ident.FaceIDs(), user: user, metadata: meta})
}

// PromoteOptions carries the confidence of a promotion.
type PromoteOptions struct {
	// Weight defaults to 1.0. Any other weight, or an era bin, stores the
	// anchor as a structured record.
	Weight float64
	EraBin string
	User   string
	// ReevaluateThreshold is the variance shrink SafePromoteCandidate
	// reports as worth re-scoring negatives for.
	ReevaluateThreshold float64
}

func (o PromoteOptions) anchor(faceID string) (models.Anchor, error) {
	w := o.Weight
	if w == 0 {
		w = models.DefaultAnchorWeight
	}
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return models.Anchor{}, fmt.Errorf("%w: weight must be positive, got %v", ErrValidation, o.Weight)
	}
	if w == models.DefaultAnchorWeight && o.EraBin == "" {
		return models.BareAnchor(faceID), nil
	}
	return models.WeightedAnchor(faceID, w, o.EraBin), nil
}

// Promote moves a candidate face into the identity's anchors.
func (r *Registry) Promote(id, faceID string, opts PromoteOptions) error {
	ident, err := r.lookupActive(id)
	if err != nil {
		return err
	}
	idx := slices.Index(ident.Candidates, faceID)
	if idx < 0 {
		return fmt.Errorf("face %s is not a candidate of identity %s: %w", faceID, id, ErrNotFound)
	}
	anchor, err := opts.anchor(faceID)
	if err != nil {
		return err
	}

	ident.Candidates = slices.Delete(ident.Candidates, idx, idx+1)
	ident.Anchors = append(ident.Anchors, anchor)

	meta := map[string]string{models.MetaCandidateIndex: strconv.Itoa(idx)}
	if anchor.EraBin != "" {
		meta[models.MetaEraBin] = anchor.EraBin
	}
	r.commit(ident, eventSpec{
		action:   models.ActionPromote,
		faceIDs:  []string{faceID},
		user:     opts.User,
		weight:   anchor.Weight(),
		metadata: meta,
	})
	return nil
}

// RejectCandidate moves a candidate face to negatives. Negatives never take
// part in fusion.
func (r *Registry) RejectCandidate(id, faceID, user string) error {
	ident, err := r.lookupActive(id)
	if err != nil {
		return err
	}
	idx := slices.Index(ident.Candidates, faceID)
	if idx < 0 {
		return fmt.Errorf("face %s is not a candidate of identity %s: %w", faceID, id, ErrNotFound)
	}

	ident.Candidates = slices.Delete(ident.Candidates, idx, idx+1)
	if !ident.HasNegative(faceID) {
		ident.Negatives = append(ident.Negatives, faceID)
	}
	ev := r.commit(ident, eventSpec{
		action:   models.ActionReject,
		faceIDs:  []string{faceID},
		user:     user,
		metadata: map[string]string{models.MetaCandidateIndex: strconv.Itoa(idx)},
	})
	r.emit(EventCandidateRejected, map[string]any{
		"identity_id": id,
		"face_id":     faceID,
		"event_id":    ev.EventID,
		"user_source": ev.UserSource,
	})
	return nil
}

// RejectIdentityPair records that a and b are definitely different people.
// Each side that does not already carry the rejection gets its own event.
func (r *Registry) RejectIdentityPair(a, b, user string) error {
	identA, identB, err := r.pair(a, b)
	if err != nil {
		return err
	}
	r.addPairNegative(identA, identB.ID, models.ActionReject, user, nil)
	r.addPairNegative(identB, identA.ID, models.ActionReject, user, nil)
	return nil
}

// UnrejectIdentityPair removes a pair rejection from both sides.
func (r *Registry) UnrejectIdentityPair(a, b, user string) error {
	identA, identB, err := r.pair(a, b)
	if err != nil {
		return err
	}
	r.removePairNegative(identA, identB.ID, models.ActionUnreject, user, nil)
	r.removePairNegative(identB, identA.ID, models.ActionUnreject, user, nil)
	return nil
}

func (r *Registry) pair(a, b string) (*models.Identity, *models.Identity, error) {
	if a == b {
		return nil, nil, fmt.Errorf("%w: identity %s paired with itself", ErrValidation, a)
	}
	identA, err := r.lookupActive(a)
	if err != nil {
		return nil, nil, err
	}
	identB, err := r.lookupActive(b)
	if err != nil {
		return nil, nil, err
	}
	return identA, identB, nil
}

func (r *Registry) addPairNegative(ident *models.Identity, otherID string, action models.Action, user string, extra map[string]string) bool {
	entry := models.IdentityNegative(otherID)
	if ident.HasNegative(entry) {
		return false
	}
	ident.Negatives = append(ident.Negatives, entry)
	r.commit(ident, eventSpec{action: action, faceIDs: []string{entry}, user: user, metadata: pairMeta(otherID, extra)})
	return true
}

func (r *Registry) removePairNegative(ident *models.Identity, otherID string, action models.Action, user string, extra map[string]string) bool {
	entry := models.IdentityNegative(otherID)
	idx := slices.Index(ident.Negatives, entry)
	if idx < 0 {
		return false
	}
	ident.Negatives = slices.Delete(ident.Negatives, idx, idx+1)
	r.commit(ident, eventSpec{action: action, faceIDs: []string{entry}, user: user, metadata: pairMeta(otherID, extra)})
	return true
}

func pairMeta(otherID string, extra map[string]string) map[string]string {
	meta := map[string]string{models.MetaOtherID: otherID}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

// Detach splits one face out of an identity into a brand-new PROPOSED
// identity holding only that face, and returns the new identity's id.
func (r *Registry) Detach(id, faceID, user string) (string, error) {
	ident, err := r.lookupActive(id)
	if err != nil {
		return "", err
	}
	anchorIdx := ident.AnchorIndex(faceID)
	candIdx := slices.Index(ident.Candidates, faceID)
	if anchorIdx < 0 && candIdx < 0 {
		return "", fmt.Errorf("face %s in identity %s: %w", faceID, id, ErrNotFound)
	}
	if ident.FaceCount() == 1 {
		return "", fmt.Errorf("detach %s from %s: %w", faceID, id, ErrOnlyFace)
	}

	anchor := models.BareAnchor(faceID)
	meta := map[string]string{}
	if anchorIdx >= 0 {
		anchor = ident.Anchors[anchorIdx]
		ident.Anchors = slices.Delete(ident.Anchors, anchorIdx, anchorIdx+1)
		meta[models.MetaWasAnchor] = "true"
	} else {
		ident.Candidates = slices.Delete(ident.Candidates, candIdx, candIdx+1)
		meta[models.MetaWasAnchor] = "false"
		meta[models.MetaCandidateIndex] = strconv.Itoa(candIdx)
	}

	detached := &models.Identity{
		ID:         r.newID(),
		State:      models.StateProposed,
		Anchors:    []models.Anchor{anchor},
		Candidates: []string{},
		Negatives:  []string{},
		Provenance: map[string]string{models.MetaDetachedFrom: id},
	}
	if job := ident.JobID(); job != "" {
		detached.Provenance[models.ProvenanceJobID] = job
	}
	meta[models.MetaDetachedInto] = detached.ID

	r.commit(ident, eventSpec{action: models.ActionDetach, faceIDs: []string{faceID}, user: user, metadata: meta})
	r.insert(detached, user, map[string]string{models.MetaDetachedFrom: id})
	return detached.ID, nil
}

// Rename sets a trimmed name truncated to MaxNameLength characters and
// returns the previous name.
func (r *Registry) Rename(id, newName, user string) (string, error) {
	ident, err := r.lookupActive(id)
	if err != nil {
		return "", err
	}
	name := normalizeName(newName)
	if name == "" {
		return "", fmt.Errorf("rename %s: %w", id, ErrEmptyName)
	}

	prev := ident.Name
	ident.Name = name
	r.commit(ident, eventSpec{
		action: models.ActionRename,
		user:   user,
		metadata: map[string]string{
			models.MetaPreviousName: prev,
			models.MetaNewName:      name,
		},
	})
	return prev, nil
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:MaxNameLength]))
	}
	return name
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

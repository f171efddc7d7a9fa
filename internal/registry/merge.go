package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"

	"github.com/your-org/facereg/internal/models"
	"github.com/your-org/facereg/internal/observability"
)

// MergeBlockReason explains a refused merge or merge undo. Blocks are
// expected business outcomes and are returned in MergeResult, not as errors.
type MergeBlockReason string

const (
	BlockCoOccurrence   MergeBlockReason = "co_occurrence"
	BlockAlreadyMerged  MergeBlockReason = "already_merged"
	BlockNameConflict   MergeBlockReason = "name_conflict"
	BlockTargetIsMerged MergeBlockReason = "target_is_merged"
	BlockNoMergeHistory MergeBlockReason = "no_merge_history"
)

// PhotoRegistry maps faces to the photos they were detected in.
type PhotoRegistry interface {
	PhotosForFaces(ctx context.Context, faceIDs []string) (map[string]struct{}, error)
}

// IdentitySummary is what the UI needs to disambiguate a name conflict.
type IdentitySummary struct {
	ID        string       `json:"identity_id"`
	Name      string       `json:"name"`
	FaceCount int          `json:"face_count"`
	State     models.State `json:"state"`
}

func summarize(i *models.Identity) IdentitySummary {
	return IdentitySummary{ID: i.ID, Name: i.Name, FaceCount: i.FaceCount(), State: i.State}
}

type MergeOptions struct {
	// ResolvedName settles a name conflict and becomes the survivor's name.
	ResolvedName string
	// ManualDirection keeps the caller's source/target order.
	ManualDirection bool
	User            string
}

type MergeResult struct {
	Success      bool              `json:"success"`
	Reason       MergeBlockReason  `json:"reason,omitempty"`
	TargetID     string            `json:"target_id,omitempty"`
	SourceID     string            `json:"source_id,omitempty"`
	Swapped      bool              `json:"direction_swapped"`
	MergeEventID string            `json:"merge_event_id,omitempty"`
	SharedPhotos []string          `json:"shared_photos,omitempty"`
	Conflict     []IdentitySummary `json:"conflict,omitempty"`
	FacesAdded   int               `json:"faces_added"`
}

func blocked(reason MergeBlockReason, sourceID, targetID string) MergeResult {
	observability.MergesBlocked.WithLabelValues(string(reason)).Inc()
	slog.Info("merge blocked", "reason", reason, "source_id", sourceID, "target_id", targetID)
	return MergeResult{Reason: reason, SourceID: sourceID, TargetID: targetID}
}

// CheckCoOccurrence returns the photos that contain a face of a and a face of
// b, sorted. All anchors and candidates of both sides count, including face
// ids they share. Negatives are not consulted.
func CheckCoOccurrence(ctx context.Context, a, b *models.Identity, photos PhotoRegistry) ([]string, error) {
	facesA, facesB := a.FaceIDs(), b.FaceIDs()
	if len(facesA) == 0 || len(facesB) == 0 {
		return nil, nil
	}

	photosA, err := photos.PhotosForFaces(ctx, facesA)
	if err != nil {
		return nil, fmt.Errorf("photos for %s: %w", a.ID, err)
	}
	photosB, err := photos.PhotosForFaces(ctx, facesB)
	if err != nil {
		return nil, fmt.Errorf("photos for %s: %w", b.ID, err)
	}

	var out []string
	for p := range photosA {
		if _, ok := photosB[p]; ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Merge folds source into target. The co-occurrence check always runs first
// and cannot be skipped. Unless opts.ManualDirection is set the survivor is
// chosen by ResolveDirection, so the returned TargetID may be sourceID.
func (r *Registry) Merge(ctx context.Context, sourceID, targetID string, photos PhotoRegistry, opts MergeOptions) (MergeResult, error) {
	if sourceID == targetID {
		return MergeResult{}, fmt.Errorf("%w: cannot merge identity %s into itself", ErrValidation, sourceID)
	}
	if photos == nil {
		return MergeResult{}, fmt.Errorf("%w: merge requires a photo registry", ErrValidation)
	}
	source, err := r.lookup(sourceID)
	if err != nil {
		return MergeResult{}, err
	}
	target, err := r.lookup(targetID)
	if err != nil {
		return MergeResult{}, err
	}

	sharedPhotos, err := CheckCoOccurrence(ctx, source, target, photos)
	if err != nil {
		return MergeResult{}, fmt.Errorf("co-occurrence check: %w", err)
	}
	if len(sharedPhotos) > 0 {
		res := blocked(BlockCoOccurrence, sourceID, targetID)
		res.SharedPhotos = sharedPhotos
		return res, nil
	}
	if source.IsMerged() || target.IsMerged() {
		return blocked(BlockAlreadyMerged, sourceID, targetID), nil
	}

	resolvedName := normalizeName(opts.ResolvedName)
	swapped := false
	if !opts.ManualDirection {
		dir := ResolveDirection(source, target)
		if dir.Conflict && resolvedName == "" {
			res := blocked(BlockNameConflict, sourceID, targetID)
			res.Conflict = []IdentitySummary{summarize(source), summarize(target)}
			return res, nil
		}
		if dir.Swapped {
			source, target = target, source
			swapped = true
		}
	}

	now := r.now()
	entry := models.MergeHistoryEntry{
		Timestamp:      now,
		SourceID:       source.ID,
		SourceSnapshot: *source.Clone(),
		TargetSnapshot: models.TargetSnapshot{
			Name:           target.Name,
			State:          target.State,
			AnchorCount:    len(target.Anchors),
			CandidateCount: len(target.Candidates),
			NegativeCount:  len(target.Negatives),
		},
		AddedAnchors:     []models.Anchor{},
		AddedCandidates:  []string{},
		AddedNegatives:   []string{},
		MovedCandidates:  []string{},
		DirectionSwapped: swapped,
		MergedBy:         userOrDefault(opts.User),
	}

	for _, a := range source.Anchors {
		if target.HasAnchor(a.FaceID) {
			continue
		}
		if idx := slices.Index(target.Candidates, a.FaceID); idx >= 0 {
			target.Candidates = slices.Delete(target.Candidates, idx, idx+1)
			entry.MovedCandidates = append(entry.MovedCandidates, a.FaceID)
		}
		target.Anchors = append(target.Anchors, a)
		entry.AddedAnchors = append(entry.AddedAnchors, a)
	}
	for _, c := range source.Candidates {
		if target.HasAnchor(c) || target.HasCandidate(c) {
			continue
		}
		target.Candidates = append(target.Candidates, c)
		entry.AddedCandidates = append(entry.AddedCandidates, c)
	}
	selfRejection := models.IdentityNegative(target.ID)
	for _, n := range source.Negatives {
		if n == selfRejection || target.HasNegative(n) {
			continue
		}
		target.Negatives = append(target.Negatives, n)
		entry.AddedNegatives = append(entry.AddedNegatives, n)
	}

	prevState, prevName := target.State, target.Name
	target.State = maxTrust(target.State, source.State)
	switch {
	case resolvedName != "":
		target.Name = resolvedName
	case !IsRealName(target.Name) && IsRealName(source.Name):
		target.Name = source.Name
	}

	source.MergedInto = target.ID
	source.Version++
	source.UpdatedAt = now

	added := addedFaceIDs(entry)
	ev := r.commit(target, eventSpec{
		action:  models.ActionMerge,
		faceIDs: added,
		user:    opts.User,
		metadata: map[string]string{
			models.MetaSourceID:      source.ID,
			models.MetaTargetID:      target.ID,
			models.MetaPreviousState: string(prevState),
			models.MetaNewState:      string(target.State),
			models.MetaPreviousName:  prevName,
			models.MetaNewName:       target.Name,
			models.MetaSwapped:       strconv.FormatBool(swapped),
		},
	})
	entry.MergeEventID = ev.EventID
	target.MergeHistory = append(target.MergeHistory, entry)

	r.emit(EventIdentityMerged, map[string]any{
		"source_id":         source.ID,
		"target_id":         target.ID,
		"merge_event_id":    ev.EventID,
		"faces_added":       len(added),
		"direction_swapped": swapped,
		"user_source":       ev.UserSource,
	})
	slog.Info("identities merged",
		"source_id", source.ID,
		"target_id", target.ID,
		"faces_added", len(added),
		"swapped", swapped,
	)

	return MergeResult{
		Success:      true,
		TargetID:     target.ID,
		SourceID:     source.ID,
		Swapped:      swapped,
		MergeEventID: ev.EventID,
		FacesAdded:   len(added),
	}, nil
}

// UndoMerge reverses the most recent merge into targetID using only its last
// merge history entry: the recorded additions are removed, moved candidates
// return, the target's name and state are restored and the absorbed identity
// comes back from its snapshot.
func (r *Registry) UndoMerge(targetID, user string) (MergeResult, error) {
	target, err := r.lookup(targetID)
	if err != nil {
		return MergeResult{}, err
	}
	if target.IsMerged() {
		return blocked(BlockTargetIsMerged, "", targetID), nil
	}
	if len(target.MergeHistory) == 0 {
		return blocked(BlockNoMergeHistory, "", targetID), nil
	}

	last := len(target.MergeHistory) - 1
	entry := target.MergeHistory[last]
	target.MergeHistory = target.MergeHistory[:last]

	removeFace := func(faceID string) {
		target.Anchors = slices.DeleteFunc(target.Anchors, func(a models.Anchor) bool { return a.FaceID == faceID })
		target.Candidates = slices.DeleteFunc(target.Candidates, func(c string) bool { return c == faceID })
	}
	for _, a := range entry.AddedAnchors {
		removeFace(a.FaceID)
	}
	for _, c := range entry.AddedCandidates {
		removeFace(c)
	}
	for _, n := range entry.AddedNegatives {
		target.Negatives = slices.DeleteFunc(target.Negatives, func(x string) bool { return x == n })
	}
	for _, m := range entry.MovedCandidates {
		if !target.HasAnchor(m) && !target.HasCandidate(m) {
			target.Candidates = append(target.Candidates, m)
		}
	}

	prevState, prevName := target.State, target.Name
	target.State = entry.TargetSnapshot.State
	target.Name = entry.TargetSnapshot.Name

	restored := entry.SourceSnapshot.Clone()
	restored.MergedInto = ""
	if current, ok := r.identities[entry.SourceID]; ok {
		restored.Version = current.Version + 1
	}
	restored.UpdatedAt = r.now()
	r.identities[restored.ID] = restored

	ev := r.commit(target, eventSpec{
		action:  models.ActionUndoMerge,
		faceIDs: addedFaceIDs(entry),
		user:    user,
		metadata: map[string]string{
			models.MetaMergeEventID:  entry.MergeEventID,
			models.MetaSourceID:      entry.SourceID,
			models.MetaPreviousState: string(prevState),
			models.MetaNewState:      string(target.State),
			models.MetaPreviousName:  prevName,
			models.MetaNewName:       target.Name,
		},
	})

	r.emit(EventMergeUndone, map[string]any{
		"source_id":      entry.SourceID,
		"target_id":      targetID,
		"merge_event_id": entry.MergeEventID,
		"event_id":       ev.EventID,
		"user_source":    ev.UserSource,
	})
	slog.Info("merge undone", "source_id", entry.SourceID, "target_id", targetID)

	return MergeResult{
		Success:      true,
		TargetID:     targetID,
		SourceID:     entry.SourceID,
		Swapped:      entry.DirectionSwapped,
		MergeEventID: entry.MergeEventID,
		FacesAdded:   len(entry.AddedAnchors) + len(entry.AddedCandidates) + len(entry.AddedNegatives),
	}, nil
}

func addedFaceIDs(e models.MergeHistoryEntry) []string {
	ids := models.AnchorFaceIDs(e.AddedAnchors)
	ids = append(ids, e.AddedCandidates...)
	return append(ids, e.AddedNegatives...)
}

func userOrDefault(user string) string {
	if user == "" {
		return DefaultUser
	}
	return user
}

package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/your-org/facereg/internal/models"
)

func TestMerge_UnionAndUndoRoundTrip(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	r := newTestRegistry(t, WithEventSink(sink))
	target := mustCreate(t, r, CreateParams{AnchorIDs: []string{"t1", "t2"}, CandidateIDs: []string{"tc", "s1"}, Name: "Grace Hopper", State: models.StateConfirmed})
	source := mustCreate(t, r, CreateParams{AnchorIDs: []string{"s1"}, CandidateIDs: []string{"sc", "tc"}, State: models.StateInbox})
	require.NoError(t, r.RejectCandidate(source, "sc", ""))
	other := mustCreate(t, r, CreateParams{AnchorIDs: []string{"x"}})
	require.NoError(t, r.RejectIdentityPair(source, other, ""))

	targetBefore := mustGet(t, r, target)
	sourceBefore := mustGet(t, r, source)

	res, err := r.Merge(ctx, source, target, photoIndex{}, MergeOptions{User: "alice"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, target, res.TargetID)
	assert.False(t, res.Swapped)

	merged := mustGet(t, r, target)
	assert.Equal(t, []string{"t1", "t2", "s1"}, models.AnchorFaceIDs(merged.Anchors))
	assert.Equal(t, []string{"tc"}, merged.Candidates, "s1 moved from candidate to anchor")
	assert.ElementsMatch(t, []string{"sc", models.IdentityNegative(other)}, merged.Negatives)
	assert.Equal(t, models.StateConfirmed, merged.State)
	require.Len(t, merged.MergeHistory, 1)
	assert.Equal(t, []string{"s1"}, merged.MergeHistory[0].MovedCandidates)
	assert.Equal(t, res.MergeEventID, merged.MergeHistory[0].MergeEventID)
	assert.Equal(t, "alice", merged.MergeHistory[0].MergedBy)

	absorbed := mustGet(t, r, source)
	assert.Equal(t, target, absorbed.MergedInto)
	assert.Contains(t, sink.names(), EventIdentityMerged)

	undo, err := r.UndoMerge(target, "")
	require.NoError(t, err)
	require.True(t, undo.Success)
	assert.Equal(t, source, undo.SourceID)

	restoredTarget := mustGet(t, r, target)
	assert.ElementsMatch(t, models.AnchorFaceIDs(targetBefore.Anchors), models.AnchorFaceIDs(restoredTarget.Anchors))
	assert.ElementsMatch(t, targetBefore.Candidates, restoredTarget.Candidates)
	assert.ElementsMatch(t, targetBefore.Negatives, restoredTarget.Negatives)
	assert.Equal(t, targetBefore.Name, restoredTarget.Name)
	assert.Equal(t, targetBefore.State, restoredTarget.State)
	assert.Empty(t, restoredTarget.MergeHistory)

	restoredSource := mustGet(t, r, source)
	assert.Empty(t, restoredSource.MergedInto)
	assert.Equal(t, sourceBefore.Anchors, restoredSource.Anchors)
	assert.Equal(t, sourceBefore.Candidates, restoredSource.Candidates)
	assert.Equal(t, sourceBefore.Negatives, restoredSource.Negatives)
	assert.Greater(t, restoredSource.Version, sourceBefore.Version)
	assert.Contains(t, sink.names(), EventMergeUndone)

	history, err := r.History(target)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, models.ActionUndoMerge, last.Action)
	assert.Equal(t, res.MergeEventID, last.Metadata[models.MetaMergeEventID])
}

func TestMerge_CoOccurrenceBlocksWithoutMutation(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}})
	before := r.Snapshot()

	res, err := r.Merge(context.Background(), a, b, photoIndex{"fa": "p1", "fb": "p1"}, MergeOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, BlockCoOccurrence, res.Reason)
	assert.Equal(t, []string{"p1"}, res.SharedPhotos)
	assert.Equal(t, before, r.Snapshot())
}

func TestMerge_CoOccurrenceRunsEvenWithManualDirection(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}})
	b := mustCreate(t, r, CreateParams{CandidateIDs: []string{"fb"}})

	res, err := r.Merge(context.Background(), a, b, photoIndex{"fa": "p1", "fb": "p1"}, MergeOptions{ManualDirection: true, ResolvedName: "Someone"})
	require.NoError(t, err)
	assert.Equal(t, BlockCoOccurrence, res.Reason)
}

func TestMerge_SharedFaceCountsAsCoOccurrence(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"s"}})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"s", "x"}})
	photos := photoIndex{"s": "p1", "x": "p2"}
	beforeA, beforeB := mustGet(t, r, a), mustGet(t, r, b)
	events := r.EventCount()

	res, err := r.Merge(context.Background(), a, b, photos, MergeOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, BlockCoOccurrence, res.Reason)
	assert.Equal(t, []string{"p1"}, res.SharedPhotos)
	assert.Equal(t, beforeA, mustGet(t, r, a))
	assert.Equal(t, beforeB, mustGet(t, r, b))
	assert.Equal(t, events, r.EventCount())
}

func TestMerge_AlreadyMerged(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}})
	c := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fc"}})
	_, err := r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{ManualDirection: true})
	require.NoError(t, err)

	res, err := r.Merge(context.Background(), a, c, photoIndex{}, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, BlockAlreadyMerged, res.Reason)
}

func TestMerge_Validation(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}})

	_, err := r.Merge(context.Background(), a, a, photoIndex{}, MergeOptions{})
	require.ErrorIs(t, err, ErrValidation)
	_, err = r.Merge(context.Background(), a, "missing", photoIndex{}, MergeOptions{})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Merge(context.Background(), a, "missing", nil, MergeOptions{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMerge_NameConflict(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}, Name: "Alan Turing"})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}, Name: "Alonzo Church"})
	before := r.Snapshot()

	res, err := r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, BlockNameConflict, res.Reason)
	require.Len(t, res.Conflict, 2)
	assert.Equal(t, "Alan Turing", res.Conflict[0].Name)
	assert.Equal(t, before, r.Snapshot())

	res, err = r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{ResolvedName: "  Alan Turing "})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Alan Turing", mustGet(t, r, res.TargetID).Name)
}

func TestMerge_TwoRealNamesConflictEvenWhenEqual(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}, Name: "ada lovelace"})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}, Name: "Ada Lovelace"})

	res, err := r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, BlockNameConflict, res.Reason)

	res, err = r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{ResolvedName: "Ada Lovelace"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Ada Lovelace", mustGet(t, r, res.TargetID).Name)
}

func TestMerge_DirectionFollowsRealName(t *testing.T) {
	r := newTestRegistry(t)
	named := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}, Name: "Katherine Johnson"})
	auto := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb", "fc"}, Name: "Unidentified Person 3", State: models.StateConfirmed})

	res, err := r.Merge(context.Background(), named, auto, photoIndex{}, MergeOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, res.Swapped)
	assert.Equal(t, named, res.TargetID)
	assert.Equal(t, auto, res.SourceID)

	survivor := mustGet(t, r, named)
	assert.Equal(t, "Katherine Johnson", survivor.Name)
	assert.Equal(t, models.StateConfirmed, survivor.State, "state is promoted to the more trusted one")
	assert.True(t, survivor.MergeHistory[0].DirectionSwapped)

	history, err := r.History(named)
	require.NoError(t, err)
	assert.Equal(t, "true", history[len(history)-1].Metadata[models.MetaSwapped])
}

func TestMerge_ManualDirectionKeepsOrder(t *testing.T) {
	r := newTestRegistry(t)
	named := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}, Name: "Katherine Johnson"})
	auto := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}})

	res, err := r.Merge(context.Background(), named, auto, photoIndex{}, MergeOptions{ManualDirection: true})
	require.NoError(t, err)
	assert.False(t, res.Swapped)
	assert.Equal(t, auto, res.TargetID)
	assert.Equal(t, "Katherine Johnson", mustGet(t, r, auto).Name, "real name carries over to an unnamed target")
}

func TestMerge_SelfRejectionIsNotCopied(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}})
	require.NoError(t, r.RejectIdentityPair(a, b, ""))

	res, err := r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{ManualDirection: true})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.False(t, mustGet(t, r, b).HasNegative(models.IdentityNegative(b)))
}

func TestMerge_ChainedUndoIsLIFO(t *testing.T) {
	r := newTestRegistry(t)
	target := mustCreate(t, r, CreateParams{AnchorIDs: []string{"t"}})
	s1 := mustCreate(t, r, CreateParams{AnchorIDs: []string{"a"}})
	s2 := mustCreate(t, r, CreateParams{AnchorIDs: []string{"b"}})
	opts := MergeOptions{ManualDirection: true}
	_, err := r.Merge(context.Background(), s1, target, photoIndex{}, opts)
	require.NoError(t, err)
	_, err = r.Merge(context.Background(), s2, target, photoIndex{}, opts)
	require.NoError(t, err)

	res, err := r.UndoMerge(target, "")
	require.NoError(t, err)
	assert.Equal(t, s2, res.SourceID)
	assert.Equal(t, []string{"t", "a"}, models.AnchorFaceIDs(mustGet(t, r, target).Anchors))

	res, err = r.UndoMerge(target, "")
	require.NoError(t, err)
	assert.Equal(t, s1, res.SourceID)

	res, err = r.UndoMerge(target, "")
	require.NoError(t, err)
	assert.Equal(t, BlockNoMergeHistory, res.Reason)

	res, err = r.UndoMerge(s1, "")
	require.NoError(t, err)
	assert.Equal(t, BlockNoMergeHistory, res.Reason)
}

func TestUndoMerge_TargetIsMerged(t *testing.T) {
	r := newTestRegistry(t)
	a := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fa"}})
	b := mustCreate(t, r, CreateParams{AnchorIDs: []string{"fb"}})
	_, err := r.Merge(context.Background(), a, b, photoIndex{}, MergeOptions{ManualDirection: true})
	require.NoError(t, err)

	res, err := r.UndoMerge(a, "")
	require.NoError(t, err)
	assert.Equal(t, BlockTargetIsMerged, res.Reason)

	_, err = r.UndoMerge("missing", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckCoOccurrence_IsPureAndSymmetric(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New(WithIDGenerator(sequentialIDs()), WithClock(steppingClock()))
		faceGen := rapid.SampledFrom([]string{"f1", "f2", "f3", "f4", "f5", "f6"})
		a, err := r.Create(CreateParams{AnchorIDs: rapid.SliceOfN(faceGen, 1, 4).Draw(t, "a")})
		require.NoError(t, err)
		b, err := r.Create(CreateParams{CandidateIDs: rapid.SliceOfN(faceGen, 1, 4).Draw(t, "b")})
		require.NoError(t, err)

		photos := photoIndex{}
		for i, f := range []string{"f1", "f2", "f3", "f4", "f5", "f6"} {
			photos[f] = fmt.Sprintf("p%d", rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("photo%d", i)))
		}
		before := r.Snapshot()
		events := r.EventCount()

		identA, identB := mustGetRapid(t, r, a), mustGetRapid(t, r, b)
		ab, err := CheckCoOccurrence(context.Background(), identA, identB, photos)
		require.NoError(t, err)
		ba, err := CheckCoOccurrence(context.Background(), identB, identA, photos)
		require.NoError(t, err)

		require.Equal(t, ab, ba)
		require.Equal(t, before, r.Snapshot())
		require.Equal(t, events, r.EventCount())
	})
}

func mustGetRapid(t *rapid.T, r *Registry, id string) *models.Identity {
	ident, err := r.Get(id)
	require.NoError(t, err)
	return ident
}

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorJSON_MixedList(t *testing.T) {
	var anchors []Anchor
	require.NoError(t, json.Unmarshal([]byte(`["f1", {"face_id": "f2", "weight": 0.8, "era_bin": "1990s"}, {"face_id": "f3"}]`), &anchors))
	require.Len(t, anchors, 3)

	assert.False(t, anchors[0].IsWeighted())
	assert.Equal(t, 1.0, anchors[0].Weight())

	assert.True(t, anchors[1].IsWeighted())
	assert.Equal(t, 0.8, anchors[1].Weight())
	assert.Equal(t, "1990s", anchors[1].EraBin)

	assert.True(t, anchors[2].IsWeighted(), "an object stays an object")
	assert.Equal(t, DefaultAnchorWeight, anchors[2].Weight())

	out, err := json.Marshal(anchors)
	require.NoError(t, err)
	assert.JSONEq(t, `["f1", {"face_id": "f2", "weight": 0.8, "era_bin": "1990s"}, {"face_id": "f3", "weight": 1}]`, string(out))
}

func TestAnchorJSON_Invalid(t *testing.T) {
	var a Anchor
	require.Error(t, json.Unmarshal([]byte(`{"weight": 2}`), &a))
	require.Error(t, json.Unmarshal([]byte(`42`), &a))
}

func TestParseState(t *testing.T) {
	st, err := ParseState(" confirmed ")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, st)

	_, err = ParseState("limbo")
	require.Error(t, err)
}

func TestIdentityClone_IsDeep(t *testing.T) {
	orig := &Identity{
		ID:           "a",
		Anchors:      []Anchor{BareAnchor("f1")},
		Candidates:   []string{"c1"},
		Negatives:    []string{IdentityNegative("b")},
		Provenance:   map[string]string{ProvenanceJobID: "j"},
		MergeHistory: []MergeHistoryEntry{{SourceID: "s", AddedCandidates: []string{"x"}}},
	}
	c := orig.Clone()
	c.Anchors[0] = BareAnchor("zz")
	c.Candidates[0] = "zz"
	c.Provenance[ProvenanceJobID] = "zz"
	c.MergeHistory[0].AddedCandidates[0] = "zz"

	assert.Equal(t, "f1", orig.Anchors[0].FaceID)
	assert.Equal(t, "c1", orig.Candidates[0])
	assert.Equal(t, "j", orig.JobID())
	assert.Equal(t, "x", orig.MergeHistory[0].AddedCandidates[0])
	assert.True(t, IsIdentityNegative(orig.Negatives[0]))
	assert.Equal(t, []string{"f1", "c1"}, orig.FaceIDs())
}

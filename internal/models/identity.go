package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type State string

const (
	StateInbox     State = "INBOX"
	StateProposed  State = "PROPOSED"
	StateConfirmed State = "CONFIRMED"
	StateContested State = "CONTESTED"
	StateRejected  State = "REJECTED"
	StateSkipped   State = "SKIPPED"
)

// States lists every identity state.
var States = []State{StateInbox, StateProposed, StateConfirmed, StateContested, StateRejected, StateSkipped}

// ParseState validates a state name (case-insensitive).
func ParseState(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(States, st) {
		return "", fmt.Errorf("unknown identity state %q", s)
	}
	return st, nil
}

// IdentityNegativePrefix marks a negative entry that rejects a whole identity
// rather than a single face.
const IdentityNegativePrefix = "identity:"

// IdentityNegative encodes an identity-pair rejection for the negatives list.
func IdentityNegative(otherID string) string {
	return IdentityNegativePrefix + otherID
}

// IsIdentityNegative reports whether a negatives entry is an identity-pair rejection.
func IsIdentityNegative(entry string) bool {
	return strings.HasPrefix(entry, IdentityNegativePrefix)
}

// ProvenanceJobID is the provenance key set by ingestion pipelines.
const ProvenanceJobID = "job_id"

// Identity is a cluster of face observations believed to be one person.
type Identity struct {
	ID           string              `json:"identity_id"`
	Name         string              `json:"name"`
	State        State               `json:"state"`
	Anchors      []Anchor            `json:"anchor_ids"`
	Candidates   []string            `json:"candidate_ids"`
	Negatives    []string            `json:"negative_ids"`
	Version      int                 `json:"version_id"`
	MergedInto   string              `json:"merged_into"`
	MergeHistory []MergeHistoryEntry `json:"merge_history"`
	Provenance   map[string]string   `json:"provenance"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// IsMerged reports whether the identity was absorbed into another one.
func (i *Identity) IsMerged() bool {
	return i.MergedInto != ""
}

// FaceCount counts anchors and candidates.
func (i *Identity) FaceCount() int {
	return len(i.Anchors) + len(i.Candidates)
}

// FaceIDs returns anchor then candidate face ids. Negatives are excluded.
func (i *Identity) FaceIDs() []string {
	ids := AnchorFaceIDs(i.Anchors)
	return append(ids, i.Candidates...)
}

// AnchorIndex returns the position of faceID among anchors, or -1.
func (i *Identity) AnchorIndex(faceID string) int {
	return slices.IndexFunc(i.Anchors, func(a Anchor) bool { return a.FaceID == faceID })
}

// HasAnchor reports whether faceID is an anchor.
func (i *Identity) HasAnchor(faceID string) bool {
	return i.AnchorIndex(faceID) >= 0
}

// HasCandidate reports whether faceID is a candidate.
func (i *Identity) HasCandidate(faceID string) bool {
	return slices.Contains(i.Candidates, faceID)
}

// HasNegative reports whether entry is in negatives.
func (i *Identity) HasNegative(entry string) bool {
	return slices.Contains(i.Negatives, entry)
}

// JobID returns the ingestion job recorded in provenance, if any.
func (i *Identity) JobID() string {
	return i.Provenance[ProvenanceJobID]
}

// Clone returns a deep copy.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Anchors = slices.Clone(i.Anchors)
	c.Candidates = slices.Clone(i.Candidates)
	c.Negatives = slices.Clone(i.Negatives)
	if i.MergeHistory != nil {
		c.MergeHistory = make([]MergeHistoryEntry, len(i.MergeHistory))
		for n, e := range i.MergeHistory {
			c.MergeHistory[n] = e.Clone()
		}
	}
	if i.Provenance != nil {
		c.Provenance = make(map[string]string, len(i.Provenance))
		for k, v := range i.Provenance {
			c.Provenance[k] = v
		}
	}
	return &c
}

// TargetSnapshot is the part of the surviving identity captured before a merge.
type TargetSnapshot struct {
	Name           string `json:"name"`
	State          State  `json:"state"`
	AnchorCount    int    `json:"anchor_count"`
	CandidateCount int    `json:"candidate_count"`
	NegativeCount  int    `json:"negative_count"`
}

// MergeHistoryEntry is the audit record kept on the surviving identity.
// Popping the last entry is enough to reverse that merge exactly.
type MergeHistoryEntry struct {
	MergeEventID    string         `json:"merge_event_id"`
	Timestamp       time.Time      `json:"timestamp"`
	SourceID        string         `json:"source_id"`
	SourceSnapshot  Identity       `json:"source_snapshot"`
	TargetSnapshot  TargetSnapshot `json:"target_snapshot"`
	AddedAnchors    []Anchor       `json:"faces_added_anchors"`
	AddedCandidates []string       `json:"faces_added_candidates"`
	AddedNegatives  []string       `json:"faces_added_negatives"`
	// MovedCandidates were target candidates promoted to anchors because the
	// source held them as anchors.
	MovedCandidates  []string `json:"moved_candidates"`
	DirectionSwapped bool     `json:"direction_auto_corrected"`
	MergedBy         string   `json:"merged_by"`
}

func (e MergeHistoryEntry) Clone() MergeHistoryEntry {
	c := e
	c.SourceSnapshot = *e.SourceSnapshot.Clone()
	c.AddedAnchors = slices.Clone(e.AddedAnchors)
	c.AddedCandidates = slices.Clone(e.AddedCandidates)
	c.AddedNegatives = slices.Clone(e.AddedNegatives)
	c.MovedCandidates = slices.Clone(e.MovedCandidates)
	return c
}

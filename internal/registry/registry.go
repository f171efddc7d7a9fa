// Package registry is the event-sourced store of identities: every mutation
// validates against current state, changes the in-memory record, bumps its
// version and appends an event that carries enough metadata to reverse it.
//
// A Registry is single-threaded. Callers serialize access and persist
// explicitly with Save.
package registry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facereg/internal/eventlog"
	"github.com/your-org/facereg/internal/models"
	"github.com/your-org/facereg/internal/observability"
	"github.com/your-org/facereg/internal/storage"
)

// DefaultUser is recorded as user_source when a caller passes none.
const DefaultUser = "manual"

type Registry struct {
	identities map[string]*models.Identity
	log        *eventlog.Log
	sink       EventSink
	files      *storage.FileStore
	now        func() time.Time
	newID      func() string
}

type Option func(*Registry)

// WithEventSink installs the instrumentation hook. The default drops events.
func WithEventSink(s EventSink) Option {
	return func(r *Registry) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides identity and event id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// WithFileStore sets the persistence layer used by Save.
func WithFileStore(fs *storage.FileStore) Option {
	return func(r *Registry) { r.files = fs }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		identities: make(map[string]*models.Identity),
		log:        eventlog.New(),
		sink:       NopSink{},
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.files == nil {
		r.files = storage.NewFileStore()
	}
	return r
}

// Load reads the registry file at path. Schema mismatches fail.
func Load(path string, opts ...Option) (*Registry, error) {
	r := New(opts...)
	snap, err := r.files.Load(path)
	if err != nil {
		return nil, err
	}
	r.restore(snap)
	return r, nil
}

// FromSnapshot builds a registry from an already decoded snapshot.
func FromSnapshot(snap *storage.Snapshot, opts ...Option) *Registry {
	r := New(opts...)
	r.restore(snap)
	return r
}

func (r *Registry) restore(snap *storage.Snapshot) {
	r.identities = make(map[string]*models.Identity, len(snap.Identities))
	for id, ident := range snap.Identities {
		r.identities[id] = ident.Clone()
	}
	r.log = eventlog.FromEvents(snap.History)
}

// Save persists the full registry through the single-writer file store,
// backing up the previous file into backupDir first.
func (r *Registry) Save(path, backupDir string) error {
	if err := r.files.Save(path, backupDir, r.Snapshot()); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	for state, n := range r.Stats() {
		observability.Identities.WithLabelValues(string(state)).Set(float64(n))
	}
	return nil
}

// Snapshot returns a deep copy of the durable state.
func (r *Registry) Snapshot() *storage.Snapshot {
	snap := &storage.Snapshot{
		SchemaVersion: storage.SchemaVersion,
		Identities:    make(map[string]*models.Identity, len(r.identities)),
		History:       r.log.All(),
	}
	for id, ident := range r.identities {
		snap.Identities[id] = ident.Clone()
	}
	return snap
}

func (r *Registry) lookup(id string) (*models.Identity, error) {
	ident, ok := r.identities[id]
	if !ok {
		return nil, notFound("identity", id)
	}
	return ident, nil
}

// lookupActive is lookup that also refuses identities absorbed by a merge.
func (r *Registry) lookupActive(id string) (*models.Identity, error) {
	ident, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	if ident.IsMerged() {
		return nil, fmt.Errorf("identity %s merged into %s: %w", id, ident.MergedInto, ErrMerged)
	}
	return ident, nil
}

type eventSpec struct {
	action   models.Action
	faceIDs  []string
	user     string
	weight   float64
	metadata map[string]string
}

// commit stamps the identity with a new version and appends the event that
// describes the mutation just applied to it.
func (r *Registry) commit(ident *models.Identity, spec eventSpec) models.Event {
	if spec.user == "" {
		spec.user = DefaultUser
	}
	if spec.weight == 0 {
		spec.weight = models.DefaultAnchorWeight
	}
	if spec.metadata == nil {
		spec.metadata = map[string]string{}
	}
	if spec.faceIDs == nil {
		spec.faceIDs = []string{}
	}

	now := r.now()
	ev := models.Event{
		EventID:          r.newID(),
		Timestamp:        now,
		IdentityID:       ident.ID,
		Action:           spec.action,
		FaceIDs:          spec.faceIDs,
		UserSource:       spec.user,
		ConfidenceWeight: spec.weight,
		PreviousVersion:  ident.Version,
		Metadata:         spec.metadata,
	}
	ident.Version++
	ident.UpdatedAt = now
	r.log.Append(ev)

	observability.RegistryMutations.WithLabelValues(string(spec.action)).Inc()
	slog.Debug("registry mutation",
		"identity_id", ident.ID,
		"action", spec.action,
		"version", ident.Version,
		"faces", len(spec.faceIDs),
	)
	return ev
}

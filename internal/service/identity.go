// Package service serializes access to the on-disk identity registry for one
// process: every call loads the latest snapshot, runs against it and, for
// mutations, saves before returning.
package service

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/your-org/facereg/internal/registry"
)

// IdentityService is safe for concurrent use. Cross-process writers are
// serialized by the registry file lock taken during Save.
type IdentityService struct {
	mu        sync.Mutex
	path      string
	backupDir string
	sink      registry.EventSink
	opts      []registry.Option
}

// New returns a service over the registry file at path. Instrumentation
// events are delivered to sink only after the mutation that produced them
// has been saved.
func New(path, backupDir string, sink registry.EventSink, opts ...registry.Option) *IdentityService {
	if sink == nil {
		sink = registry.NopSink{}
	}
	return &IdentityService{
		path:      path,
		backupDir: backupDir,
		sink:      sink,
		opts:      opts,
	}
}

// Path returns the registry file path.
func (s *IdentityService) Path() string {
	return s.path
}

// Read runs fn against a freshly loaded registry. Changes fn makes are discarded.
func (s *IdentityService) Read(fn func(*registry.Registry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load(registry.NopSink{})
	if err != nil {
		return err
	}
	return fn(reg)
}

// Mutate loads the registry, runs fn and saves if fn recorded any event.
// Nothing is saved when fn fails.
func (s *IdentityService) Mutate(fn func(*registry.Registry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := &pendingSink{}
	reg, err := s.load(pending)
	if err != nil {
		return err
	}
	before := reg.EventCount()
	if err := fn(reg); err != nil {
		return err
	}
	if reg.EventCount() == before {
		return nil
	}
	if err := reg.Save(s.path, s.backupDir); err != nil {
		return err
	}
	pending.flush(s.sink)
	return nil
}

func (s *IdentityService) load(sink registry.EventSink) (*registry.Registry, error) {
	opts := append(append([]registry.Option{}, s.opts...), registry.WithEventSink(sink))
	reg, err := registry.Load(s.path, opts...)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("registry file not found, starting empty", "path", s.path)
		return registry.New(opts...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return reg, nil
}

type pendingEvent struct {
	name    string
	payload map[string]any
}

// pendingSink holds instrumentation events until the mutation is durable.
type pendingSink struct {
	events []pendingEvent
}

func (p *pendingSink) Record(event string, payload map[string]any) {
	p.events = append(p.events, pendingEvent{name: event, payload: payload})
}

func (p *pendingSink) flush(sink registry.EventSink) {
	for _, e := range p.events {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Warn("event sink panicked", "event", e.name, "panic", rec)
				}
			}()
			sink.Record(e.name, e.payload)
		}()
	}
	p.events = nil
}

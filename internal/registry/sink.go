package registry

import (
	"log/slog"
)

// Instrumentation event names passed to EventSink.Record.
const (
	EventIdentityMerged    = "identity_merged"
	EventMergeUndone       = "merge_undone"
	EventIdentityConfirmed = "identity_confirmed"
	EventIdentityRejected  = "identity_rejected"
	EventIdentityReset     = "identity_reset"
	EventIdentitySkipped   = "identity_skipped"
	EventIdentityContested = "identity_contested"
	EventCandidateRejected = "candidate_rejected"
)

// EventSink receives fire-and-forget instrumentation events. Implementations
// must not block; the registry ignores their failures.
type EventSink interface {
	Record(event string, payload map[string]any)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Record(string, map[string]any) {}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Record(event string, payload map[string]any) {
	for _, s := range m {
		if s != nil {
			s.Record(event, payload)
		}
	}
}

// emit calls the sink after a committed mutation. A panicking sink is logged
// and otherwise ignored.
func (r *Registry) emit(event string, payload map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("event sink panicked", "event", event, "panic", rec)
		}
	}()
	r.sink.Record(event, payload)
}

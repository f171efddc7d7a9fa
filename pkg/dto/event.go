package dto

import "time"

// RegistryEvent is an instrumentation event as published on NATS.
type RegistryEvent struct {
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
}

// IdentityID returns the identity the event is about, preferring the merge
// target for merge events.
func (e RegistryEvent) IdentityID() string {
	for _, key := range []string{"identity_id", "target_id"} {
		if v, ok := e.Payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// WSEvent is a WebSocket message for real-time registry updates.
type WSEvent struct {
	Type       string         `json:"type"` // identity_merged, identity_confirmed, ...
	IdentityID string         `json:"identity_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

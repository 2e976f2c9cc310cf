// Package envelope defines the canonical representation of a security event
// inside the export pipeline and the builder that normalizes producer input.
package envelope

import (
	"time"
)

// SchemaVersion identifies the envelope wire schema.
const SchemaVersion = "1.0"

// Severity levels accepted on an envelope. Unknown values are preserved
// as-is after uppercasing; converters fall back to LOW mappings.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Source describes the process that produced an event.
type Source struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	InstanceID  string `json:"instance_id"`
	EventSource string `json:"event_source"`
}

// Actor carries the identity fields extracted from a raw event.
type Actor struct {
	UserID    string         `json:"user_id,omitempty"`
	UserEmail string         `json:"user_email,omitempty"`
	ClientIP  string         `json:"client_ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Geo       map[string]any `json:"geo,omitempty"`
}

// Threat carries threat-scoring fields.
type Threat struct {
	Score          float64  `json:"score"`
	FailedAttempts int      `json:"failed_attempts"`
	Indicators     []string `json:"indicators"`
}

// Meta is pipeline-internal delivery state. It travels with the envelope
// through the queue so retries survive process restarts on the durable
// backend.
type Meta struct {
	Attempt             int        `json:"attempt"`
	PendingDestinations []string   `json:"pending_destinations,omitempty"`
	DeadLetteredAt      *time.Time `json:"dead_lettered_at,omitempty"`
}

// Envelope is the canonical, versioned form of one security/audit event.
// The pipeline owns an envelope exclusively from enqueue until it is either
// delivered to every matching destination or dead-lettered.
type Envelope struct {
	SchemaVersion string         `json:"schema_version"`
	EventID       string         `json:"event_id"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     string         `json:"event_type"`
	Severity      string         `json:"severity"`
	Category      string         `json:"category"`
	Description   string         `json:"description"`
	Source        Source         `json:"source"`
	Actor         Actor          `json:"actor"`
	Threat        Threat         `json:"threat"`
	Context       map[string]any `json:"context"`
	ActionTaken   string         `json:"action_taken,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Meta          Meta           `json:"_meta"`
}

// Clone returns a deep copy. Retries always operate on copies so the
// original envelope handed to the dispatcher is never mutated.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := *e

	out.Actor.Geo = CopyMap(e.Actor.Geo)
	out.Context = CopyMap(e.Context)
	out.Metadata = CopyMap(e.Metadata)

	if e.Threat.Indicators != nil {
		out.Threat.Indicators = append([]string(nil), e.Threat.Indicators...)
	}
	if e.Meta.PendingDestinations != nil {
		out.Meta.PendingDestinations = append([]string(nil), e.Meta.PendingDestinations...)
	}
	if e.Meta.DeadLetteredAt != nil {
		t := *e.Meta.DeadLetteredAt
		out.Meta.DeadLetteredAt = &t
	}
	return &out
}

// CorrelationID returns the correlation id carried in the context map, if any.
func (e *Envelope) CorrelationID() string {
	if e.Context == nil {
		return ""
	}
	if v, ok := e.Context["correlation_id"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CopyMap deep-copies a JSON-shaped map (nested maps and slices).
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

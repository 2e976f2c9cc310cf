package logging

import "log/slog"

// Common field names for consistent logging across the exporter.
const (
	FieldService     = "service"
	FieldBackend     = "backend"
	FieldDestination = "destination"
	FieldEventID     = "event_id"
	FieldEventType   = "event_type"
	FieldAttempt     = "attempt"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldDepth       = "queue_depth"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Backend returns a slog attribute for the active queue backend.
func Backend(name string) slog.Attr {
	return slog.String(FieldBackend, name)
}

// Destination returns a slog attribute for a destination name.
func Destination(name string) slog.Attr {
	return slog.String(FieldDestination, name)
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for an event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// Attempt returns a slog attribute for a delivery attempt counter.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Depth returns a slog attribute for the queue depth.
func Depth(n int64) slog.Attr {
	return slog.Int64(FieldDepth, n)
}

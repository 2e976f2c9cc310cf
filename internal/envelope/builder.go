package envelope

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Builder normalizes loosely-typed producer events into envelopes.
// Building never fails: missing or malformed fields degrade to defaults.
type Builder struct {
	Service    string
	Version    string
	InstanceID string
}

// Build normalizes a raw event map plus a source tag into an envelope.
func (b *Builder) Build(event map[string]any, source string) *Envelope {
	if event == nil {
		event = map[string]any{}
	}

	now := time.Now().UTC()
	ts, ok := normalizeTimestamp(event["timestamp"])
	if !ok {
		ts = now
	}

	eventType := stringOr(event["event_type"], "security_event")
	severity := strings.ToUpper(stringOr(event["severity"], SeverityLow))
	category := stringOr(event["category"], source)

	ctx := map[string]any{}
	if m, ok := event["context"].(map[string]any); ok {
		ctx = CopyMap(m)
	}
	if cid := asString(event["correlation_id"]); cid != "" {
		if _, exists := ctx["correlation_id"]; !exists {
			ctx["correlation_id"] = cid
		}
	}

	threatMap, _ := event["threat"].(map[string]any)

	score := event["threat_score"]
	if score == nil && threatMap != nil {
		score = threatMap["score"]
	}

	failedAttempts := event["failed_attempts"]
	if failedAttempts == nil {
		failedAttempts = event["failed_attempts_count"]
	}
	if failedAttempts == nil && threatMap != nil {
		failedAttempts = threatMap["failed_attempts"]
	}

	indicators := event["threat_indicators"]
	if indicators == nil && threatMap != nil {
		indicators = threatMap["indicators"]
	}

	var geo map[string]any
	if m, ok := event["geo"].(map[string]any); ok {
		geo = CopyMap(m)
	}

	eventID := asString(event["event_id"])
	if eventID == "" {
		eventID = "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	description := asString(event["description"])
	if description == "" {
		description = eventType + " detected"
	}

	env := &Envelope{
		SchemaVersion: SchemaVersion,
		EventID:       eventID,
		Timestamp:     ts,
		EventType:     eventType,
		Severity:      severity,
		Category:      category,
		Description:   description,
		Source: Source{
			Service:     b.Service,
			Version:     b.Version,
			InstanceID:  b.InstanceID,
			EventSource: source,
		},
		Actor: Actor{
			UserID:    asString(event["user_id"]),
			UserEmail: asString(event["user_email"]),
			ClientIP:  asString(event["client_ip"]),
			UserAgent: asString(event["user_agent"]),
			Geo:       geo,
		},
		Threat: Threat{
			Score:          toFloat(score, 0),
			FailedAttempts: toInt(failedAttempts, 0),
			Indicators:     toStringList(indicators),
		},
		Context:     ctx,
		ActionTaken: asString(event["action_taken"]),
	}

	if meta, ok := event["_meta"].(map[string]any); ok {
		env.Meta.Attempt = toInt(meta["attempt"], 0)
	}
	if md, ok := event["metadata"].(map[string]any); ok {
		env.Metadata = CopyMap(md)
	}

	return env
}

// normalizeTimestamp accepts RFC 3339 strings, time.Time values and epoch
// seconds (int or float). The second return reports whether the value could
// be interpreted.
func normalizeTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		text := strings.TrimSpace(t)
		if text == "" {
			return time.Time{}, false
		}
		if parsed, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return parsed.UTC(), true
		}
		if parsed, err := time.Parse("2006-01-02T15:04:05", text); err == nil {
			return parsed.UTC(), true
		}
		return time.Time{}, false
	case float64:
		if t <= 0 {
			return time.Time{}, false
		}
		sec := int64(t)
		nsec := int64((t - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), true
	case int64:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(t, 0).UTC(), true
	case int:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(t), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

func stringOr(v any, fallback string) string {
	if s := asString(v); s != "" {
		return s
	}
	return fallback
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

func toFloat(v any, fallback float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return fallback
}

func toInt(v any, fallback int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return fallback
}

func toStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	default:
		return []string{fmt.Sprintf("%v", t)}
	}
}

// Package redact removes configured sensitive fields from envelopes before
// they are formatted or sent anywhere.
package redact

import (
	"github.com/edgegate/siem-exporter/internal/envelope"
)

// Sentinel replaces redacted values. Redaction is idempotent because
// re-redacting a field yields the same sentinel.
const Sentinel = "***REDACTED***"

// FieldSet is a set of field names subject to redaction.
type FieldSet map[string]struct{}

// NewFieldSet builds a FieldSet from one or more name lists. Empty names
// are skipped.
func NewFieldSet(lists ...[]string) FieldSet {
	set := FieldSet{}
	for _, list := range lists {
		for _, name := range list {
			if name != "" {
				set[name] = struct{}{}
			}
		}
	}
	return set
}

func (s FieldSet) contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Apply returns a deep copy of env with every matching field replaced by the
// sentinel. Typed actor fields are matched by their wire names; context,
// metadata and geo maps are walked recursively, including nested lists.
func Apply(env *envelope.Envelope, fields FieldSet) *envelope.Envelope {
	out := env.Clone()
	if len(fields) == 0 {
		return out
	}

	if fields.contains("user_id") && out.Actor.UserID != "" {
		out.Actor.UserID = Sentinel
	}
	if fields.contains("user_email") && out.Actor.UserEmail != "" {
		out.Actor.UserEmail = Sentinel
	}
	if fields.contains("client_ip") && out.Actor.ClientIP != "" {
		out.Actor.ClientIP = Sentinel
	}
	if fields.contains("user_agent") && out.Actor.UserAgent != "" {
		out.Actor.UserAgent = Sentinel
	}

	out.Actor.Geo = redactMap(out.Actor.Geo, fields)
	out.Context = redactMap(out.Context, fields)
	out.Metadata = redactMap(out.Metadata, fields)
	return out
}

func redactMap(m map[string]any, fields FieldSet) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		if fields.contains(k) {
			m[k] = Sentinel
			continue
		}
		m[k] = redactValue(v, fields)
	}
	return m
}

func redactValue(v any, fields FieldSet) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, fields)
	case []any:
		for i, item := range t {
			t[i] = redactValue(item, fields)
		}
		return t
	default:
		return v
	}
}

package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgegate/siem-exporter/internal/envelope"
)

func sampleEnvelope() *envelope.Envelope {
	return &envelope.Envelope{
		EventID:  "evt_test",
		Severity: envelope.SeverityHigh,
		Actor: envelope.Actor{
			UserID:    "u-1",
			UserEmail: "alice@example.com",
			ClientIP:  "10.0.0.9",
		},
		Context: map[string]any{
			"authorization": "Bearer abc",
			"request": map[string]any{
				"token": "xyz",
				"path":  "/tools",
			},
			"attempts": []any{
				map[string]any{"password": "hunter2"},
			},
		},
		Metadata: map[string]any{"api_key": "k-123", "plugin": "acl"},
	}
}

func TestApply_RedactsTypedAndNestedFields(t *testing.T) {
	fields := NewFieldSet([]string{"user_email", "authorization", "token", "password", "api_key"})
	out := Apply(sampleEnvelope(), fields)

	assert.Equal(t, Sentinel, out.Actor.UserEmail)
	assert.Equal(t, "u-1", out.Actor.UserID)
	assert.Equal(t, Sentinel, out.Context["authorization"])
	assert.Equal(t, Sentinel, out.Context["request"].(map[string]any)["token"])
	assert.Equal(t, "/tools", out.Context["request"].(map[string]any)["path"])
	assert.Equal(t, Sentinel, out.Context["attempts"].([]any)[0].(map[string]any)["password"])
	assert.Equal(t, Sentinel, out.Metadata["api_key"])
	assert.Equal(t, "acl", out.Metadata["plugin"])
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	env := sampleEnvelope()
	Apply(env, NewFieldSet([]string{"user_email", "authorization"}))

	assert.Equal(t, "alice@example.com", env.Actor.UserEmail)
	assert.Equal(t, "Bearer abc", env.Context["authorization"])
}

func TestApply_Idempotent(t *testing.T) {
	fields := NewFieldSet([]string{"user_email", "token", "authorization", "password", "api_key"})
	once := Apply(sampleEnvelope(), fields)
	twice := Apply(once, fields)

	assert.Equal(t, once, twice)
}

func TestApply_EmptySetIsNoop(t *testing.T) {
	env := sampleEnvelope()
	out := Apply(env, NewFieldSet(nil))
	assert.Equal(t, env, out)
}

func TestNewFieldSet_MergesDestinationFields(t *testing.T) {
	set := NewFieldSet([]string{"token", ""}, []string{"session_id", "token"})
	assert.Len(t, set, 2)
	assert.True(t, set.contains("session_id"))
	assert.True(t, set.contains("token"))
	assert.False(t, set.contains(""))
}

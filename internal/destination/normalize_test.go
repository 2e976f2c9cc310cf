package destination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/siem-exporter/internal/format"
)

func webhookConfig() *Destination {
	return &Destination{
		Name:    "hook",
		Type:    TypeWebhook,
		Format:  format.KindJSON,
		Enabled: true,
		URL:     "https://hooks.example.com/siem",
	}
}

func TestNormalize_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		dest *Destination
	}{
		{"missing name", &Destination{Type: TypeWebhook, URL: "https://x.example.com"}},
		{"bad type", &Destination{Name: "d", Type: "kafka"}},
		{"bad format", &Destination{Name: "d", Type: TypeWebhook, URL: "https://x.example.com", Format: "xml"}},
		{"splunk without token", &Destination{Name: "d", Type: TypeSplunkHEC, URL: "https://splunk.example.com:8088/services/collector"}},
		{"splunk without url", &Destination{Name: "d", Type: TypeSplunkHEC, Token: "t"}},
		{"datadog without api key", &Destination{Name: "d", Type: TypeDatadog}},
		{"elasticsearch without url", &Destination{Name: "d", Type: TypeElasticsearch}},
		{"webhook without url", &Destination{Name: "d", Type: TypeWebhook}},
		{"syslog without host", &Destination{Name: "d", Type: TypeSyslog}},
		{"syslog bad protocol", &Destination{Name: "d", Type: TypeSyslog, Host: "collector", Protocol: "sctp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.dest, nil)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestNormalize_Defaults(t *testing.T) {
	t.Run("datadog intake url", func(t *testing.T) {
		out, err := Normalize(&Destination{Name: "dd", Type: TypeDatadog, APIKey: "k"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://http-intake.logs.datadoghq.com/api/v2/logs", out.URL)
		assert.Equal(t, format.KindJSON, out.Format)
	})

	t.Run("datadog custom site", func(t *testing.T) {
		out, err := Normalize(&Destination{Name: "dd", Type: TypeDatadog, APIKey: "k", Site: "datadoghq.eu"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://http-intake.logs.datadoghq.eu/api/v2/logs", out.URL)
	})

	t.Run("webhook defaults", func(t *testing.T) {
		out, err := Normalize(webhookConfig(), nil)
		require.NoError(t, err)
		assert.Equal(t, "POST", out.Method)
		assert.Equal(t, "sha256", out.HMACAlgorithm)
		assert.Equal(t, "X-SIEM-Signature", out.HMACHeader)
	})

	t.Run("syslog defaults", func(t *testing.T) {
		out, err := Normalize(&Destination{Name: "sys", Type: TypeSyslog, Host: "collector.internal"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "udp", out.Protocol)
		assert.Equal(t, 514, out.Port)
		assert.Equal(t, 1, out.Facility)
		assert.True(t, out.WrapSyslog())
	})

	t.Run("elasticsearch trailing slash and index pattern", func(t *testing.T) {
		out, err := Normalize(&Destination{Name: "es", Type: TypeElasticsearch, URL: "https://es.example.com:9200/"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://es.example.com:9200", out.URL)
		assert.Equal(t, "edgegate-security-%Y.%m.%d", out.IndexPattern)
	})

	t.Run("type and format case folded", func(t *testing.T) {
		out, err := Normalize(&Destination{Name: "w", Type: "Webhook", Format: "CEF", URL: "https://x.example.com"}, nil)
		require.NoError(t, err)
		assert.Equal(t, TypeWebhook, out.Type)
		assert.Equal(t, format.KindCEF, out.Format)
	})
}

func TestNormalize_URLAllowlist(t *testing.T) {
	t.Run("blocked host rejected", func(t *testing.T) {
		cfg := webhookConfig()
		cfg.URL = "https://blocked.example.com/hook"
		_, err := Normalize(cfg, []string{"allowed.example.com"})
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("empty allowlist disables check", func(t *testing.T) {
		cfg := webhookConfig()
		cfg.URL = "https://blocked.example.com/hook"
		_, err := Normalize(cfg, nil)
		require.NoError(t, err)
	})

	t.Run("exact host", func(t *testing.T) {
		_, err := Normalize(webhookConfig(), []string{"hooks.example.com"})
		require.NoError(t, err)
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		_, err := Normalize(webhookConfig(), []string{"*.example.com"})
		require.NoError(t, err)
	})

	t.Run("url prefix", func(t *testing.T) {
		_, err := Normalize(webhookConfig(), []string{"https://hooks.example.com/"})
		require.NoError(t, err)
	})

	t.Run("wildcard does not match other domain", func(t *testing.T) {
		cfg := webhookConfig()
		cfg.URL = "https://hooks.attacker.net/x"
		_, err := Normalize(cfg, []string{"*.example.com"})
		require.Error(t, err)
	})
}

func TestNormalize_EnvPlaceholders(t *testing.T) {
	t.Setenv("SIEM_TEST_TOKEN", "tok-42")
	t.Setenv("SIEM_TEST_HOST", "hooks.example.com")

	cfg := &Destination{
		Name:    "hook",
		Type:    TypeWebhook,
		URL:     "https://${SIEM_TEST_HOST}/siem",
		Headers: map[string]string{"X-Custom": "${SIEM_TEST_TOKEN}"},
	}
	out, err := Normalize(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/siem", out.URL)
	assert.Equal(t, "tok-42", out.Headers["X-Custom"])

	t.Run("unset expands empty", func(t *testing.T) {
		out, err := Normalize(&Destination{Name: "w", Type: TypeWebhook, URL: "https://h.example.com/${SIEM_TEST_UNSET_SUFFIX}"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://h.example.com/", out.URL)
	})

	t.Run("input not mutated", func(t *testing.T) {
		assert.Equal(t, "https://${SIEM_TEST_HOST}/siem", cfg.URL)
	})
}

func TestSanitize(t *testing.T) {
	d := &Destination{
		Name:       "hook",
		Type:       TypeWebhook,
		URL:        "https://hooks.example.com/siem",
		Token:      "splunk-token",
		APIKey:     "dd-key",
		Password:   "es-pass",
		HMACSecret: "hmac",
		Headers: map[string]string{
			"Authorization": "Bearer abc",
			"X-Api-Key":     "k",
			"X-Request-Id":  "keep-me",
		},
	}

	out := Sanitize(d)

	assert.Equal(t, secretMask, out.Token)
	assert.Equal(t, secretMask, out.APIKey)
	assert.Equal(t, secretMask, out.Password)
	assert.Equal(t, secretMask, out.HMACSecret)
	assert.Equal(t, secretMask, out.Headers["Authorization"])
	assert.Equal(t, secretMask, out.Headers["X-Api-Key"])
	assert.Equal(t, "keep-me", out.Headers["X-Request-Id"])

	// Original retains its secrets for actual delivery.
	assert.Equal(t, "splunk-token", d.Token)
	assert.Equal(t, "Bearer abc", d.Headers["Authorization"])
}

// Package destination models configured SIEM sinks: their connection
// settings, match filters, and the security checks applied when configs are
// accepted from operators.
package destination

import (
	"fmt"
	"strings"

	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/format"
)

// Type enumerates the supported sink kinds.
type Type string

const (
	TypeSplunkHEC     Type = "splunk_hec"
	TypeDatadog       Type = "datadog"
	TypeElasticsearch Type = "elasticsearch"
	TypeWebhook       Type = "webhook"
	TypeSyslog        Type = "syslog"
)

// Types lists every supported destination type.
func Types() []Type {
	return []Type{TypeSplunkHEC, TypeDatadog, TypeElasticsearch, TypeWebhook, TypeSyslog}
}

// Valid reports whether t names a supported destination type.
func (t Type) Valid() bool {
	switch t {
	case TypeSplunkHEC, TypeDatadog, TypeElasticsearch, TypeWebhook, TypeSyslog:
		return true
	}
	return false
}

// Filters restricts which envelopes a destination receives. An empty list
// matches everything; a non-empty list must contain the envelope's value.
type Filters struct {
	Severity   []string `mapstructure:"severity" json:"severity,omitempty"`
	EventTypes []string `mapstructure:"event_types" json:"event_types,omitempty"`
	Categories []string `mapstructure:"categories" json:"categories,omitempty"`
}

// Matches evaluates the filter predicates against an envelope. Severity
// comparison is case-insensitive; event type and category are exact.
func (f Filters) Matches(env *envelope.Envelope) bool {
	if len(f.Severity) > 0 {
		found := false
		for _, s := range f.Severity {
			if strings.EqualFold(s, env.Severity) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, env.EventType) {
		return false
	}
	if len(f.Categories) > 0 && !contains(f.Categories, env.Category) {
		return false
	}
	return true
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// Destination is one configured SIEM sink. Name is the identity key:
// re-adding a destination with the same name replaces the previous config.
type Destination struct {
	Name    string      `mapstructure:"name" json:"name"`
	Type    Type        `mapstructure:"type" json:"type"`
	Format  format.Kind `mapstructure:"format" json:"format"`
	Enabled bool        `mapstructure:"enabled" json:"enabled"`

	// HTTP sinks.
	URL string `mapstructure:"url" json:"url,omitempty"`

	// Splunk HEC.
	Token      string `mapstructure:"token" json:"token,omitempty"`
	Index      string `mapstructure:"index" json:"index,omitempty"`
	Source     string `mapstructure:"source" json:"source,omitempty"`
	SourceType string `mapstructure:"sourcetype" json:"sourcetype,omitempty"`

	// Datadog.
	APIKey  string   `mapstructure:"api_key" json:"api_key,omitempty"`
	Site    string   `mapstructure:"site" json:"site,omitempty"`
	Service string   `mapstructure:"service" json:"service,omitempty"`
	Tags    []string `mapstructure:"tags" json:"tags,omitempty"`

	// Elasticsearch.
	IndexPattern string `mapstructure:"index_pattern" json:"index_pattern,omitempty"`
	Username     string `mapstructure:"username" json:"username,omitempty"`
	Password     string `mapstructure:"password" json:"password,omitempty"`

	// Webhook.
	Method              string            `mapstructure:"method" json:"method,omitempty"`
	Headers             map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	Template            string            `mapstructure:"template" json:"template,omitempty"`
	TemplateFile        string            `mapstructure:"template_file" json:"template_file,omitempty"`
	HMACSecret          string            `mapstructure:"hmac_secret" json:"hmac_secret,omitempty"`
	HMACAlgorithm       string            `mapstructure:"hmac_algorithm" json:"hmac_algorithm,omitempty"`
	HMACHeader          string            `mapstructure:"hmac_header" json:"hmac_header,omitempty"`
	ExpectedStatusCodes []int             `mapstructure:"expected_status_codes" json:"expected_status_codes,omitempty"`

	// Syslog.
	Host          string `mapstructure:"host" json:"host,omitempty"`
	Port          int    `mapstructure:"port" json:"port,omitempty"`
	Protocol      string `mapstructure:"protocol" json:"protocol,omitempty"`
	Facility      int    `mapstructure:"facility" json:"facility,omitempty"`
	AppName       string `mapstructure:"app_name" json:"app_name,omitempty"`
	SyslogWrapper *bool  `mapstructure:"syslog_wrapper" json:"syslog_wrapper,omitempty"`

	Filters      Filters  `mapstructure:"filters" json:"filters"`
	RedactFields []string `mapstructure:"redact_fields" json:"redact_fields,omitempty"`
}

// WrapSyslog reports whether syslog messages get the RFC 5424 envelope.
// Wrapping is on unless explicitly disabled.
func (d *Destination) WrapSyslog() bool {
	return d.SyslogWrapper == nil || *d.SyslogWrapper
}

// Clone returns a copy safe to hand out without aliasing internal maps.
func (d *Destination) Clone() *Destination {
	out := *d
	if d.Headers != nil {
		out.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			out.Headers[k] = v
		}
	}
	out.Tags = append([]string(nil), d.Tags...)
	out.ExpectedStatusCodes = append([]int(nil), d.ExpectedStatusCodes...)
	out.RedactFields = append([]string(nil), d.RedactFields...)
	out.Filters.Severity = append([]string(nil), d.Filters.Severity...)
	out.Filters.EventTypes = append([]string(nil), d.Filters.EventTypes...)
	out.Filters.Categories = append([]string(nil), d.Filters.Categories...)
	if d.SyslogWrapper != nil {
		b := *d.SyslogWrapper
		out.SyslogWrapper = &b
	}
	return &out
}

// ConfigError reports an invalid destination definition. It is returned
// synchronously from admin mutations and never enters the queue.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid destination config: " + e.Reason
}

func configErrorf(formatStr string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(formatStr, args...)}
}

package destination

import (
	"net/url"
	"os"
	"strings"

	"github.com/edgegate/siem-exporter/internal/format"
)

// Defaults applied during normalization.
const (
	defaultDatadogSite   = "datadoghq.com"
	defaultIndexPattern  = "edgegate-security-%Y.%m.%d"
	defaultHMACAlgorithm = "sha256"
	defaultHMACHeader    = "X-SIEM-Signature"
	defaultSyslogPort    = 514
	defaultFacility      = 1
	defaultAppName       = "edgegate"
)

// Normalize validates a destination config, expands ${ENV_VAR} placeholders
// in every string field, applies per-type defaults, and enforces the
// outbound URL allow-list. The input is not mutated; the returned value is
// the canonical config to store.
func Normalize(d *Destination, urlAllowlist []string) (*Destination, error) {
	if d == nil {
		return nil, configErrorf("destination must not be nil")
	}

	out := d.Clone()
	expandEnv(out)

	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		return nil, configErrorf("destination requires a non-empty name")
	}

	out.Type = Type(strings.ToLower(strings.TrimSpace(string(out.Type))))
	if !out.Type.Valid() {
		return nil, configErrorf("destination %q has unsupported type %q", out.Name, out.Type)
	}

	out.Format = format.Kind(strings.ToLower(strings.TrimSpace(string(out.Format))))
	if out.Format == "" {
		out.Format = format.KindJSON
	}
	if !out.Format.Valid() {
		return nil, configErrorf("destination %q has unsupported format %q", out.Name, out.Format)
	}

	switch out.Type {
	case TypeSplunkHEC:
		if out.URL == "" {
			return nil, configErrorf("destination %q (splunk_hec) requires url", out.Name)
		}
		if out.Token == "" {
			return nil, configErrorf("destination %q (splunk_hec) requires token", out.Name)
		}
	case TypeDatadog:
		if out.APIKey == "" {
			return nil, configErrorf("destination %q (datadog) requires api_key", out.Name)
		}
		if out.Site == "" {
			out.Site = defaultDatadogSite
		}
		if out.URL == "" {
			out.URL = "https://http-intake.logs." + out.Site + "/api/v2/logs"
		}
	case TypeElasticsearch:
		if out.URL == "" {
			return nil, configErrorf("destination %q (elasticsearch) requires url", out.Name)
		}
		out.URL = strings.TrimRight(out.URL, "/")
		if out.IndexPattern == "" {
			out.IndexPattern = defaultIndexPattern
		}
	case TypeWebhook:
		if out.URL == "" {
			return nil, configErrorf("destination %q (webhook) requires url", out.Name)
		}
		out.Method = strings.ToUpper(out.Method)
		if out.Method == "" {
			out.Method = "POST"
		}
		if out.HMACAlgorithm == "" {
			out.HMACAlgorithm = defaultHMACAlgorithm
		}
		out.HMACAlgorithm = strings.ToLower(out.HMACAlgorithm)
		if out.HMACHeader == "" {
			out.HMACHeader = defaultHMACHeader
		}
	case TypeSyslog:
		if out.Host == "" {
			return nil, configErrorf("destination %q (syslog) requires host", out.Name)
		}
		out.Protocol = strings.ToLower(out.Protocol)
		if out.Protocol == "" {
			out.Protocol = "udp"
		}
		if out.Protocol != "udp" && out.Protocol != "tcp" {
			return nil, configErrorf("destination %q syslog protocol must be udp or tcp", out.Name)
		}
		if out.Port == 0 {
			out.Port = defaultSyslogPort
		}
		if out.Facility == 0 {
			out.Facility = defaultFacility
		}
		if out.AppName == "" {
			out.AppName = defaultAppName
		}
	}

	if out.URL != "" && out.Type != TypeSyslog {
		if err := checkURLAllowed(out.URL, urlAllowlist); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// checkURLAllowed enforces the operator outbound allow-list. An empty list
// disables the check. Rules: full URL prefix (contains "://"), wildcard
// host suffix ("*.example.com"), or exact hostname.
func checkURLAllowed(rawURL string, allowlist []string) error {
	if len(allowlist) == 0 {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return configErrorf("destination url %q is not a valid URL", rawURL)
	}
	hostname := parsed.Hostname()

	for _, rule := range allowlist {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		if strings.Contains(rule, "://") && strings.HasPrefix(rawURL, rule) {
			return nil
		}
		if strings.HasPrefix(rule, "*.") {
			if strings.HasSuffix(hostname, rule[1:]) {
				return nil
			}
			continue
		}
		if hostname == rule {
			return nil
		}
	}

	return configErrorf("destination URL not in allowlist: %s", rawURL)
}

// expandEnv resolves ${NAME} placeholders in every string field against the
// process environment. Unset variables expand to the empty string.
func expandEnv(d *Destination) {
	fields := []*string{
		&d.URL, &d.Token, &d.Index, &d.Source, &d.SourceType,
		&d.APIKey, &d.Site, &d.Service,
		&d.IndexPattern, &d.Username, &d.Password,
		&d.Method, &d.Template, &d.TemplateFile,
		&d.HMACSecret, &d.HMACAlgorithm, &d.HMACHeader,
		&d.Host, &d.Protocol, &d.AppName,
	}
	for _, f := range fields {
		*f = expandPlaceholders(*f)
	}
	for k, v := range d.Headers {
		d.Headers[k] = expandPlaceholders(v)
	}
	for i, v := range d.Tags {
		d.Tags[i] = expandPlaceholders(v)
	}
}

// expandPlaceholders replaces ${NAME} occurrences only; bare $NAME is left
// alone so tokens containing dollar signs survive.
func expandPlaceholders(s string) string {
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start+2:], "}")
		if end == -1 {
			return s
		}
		name := s[start+2 : start+2+end]
		s = s[:start] + os.Getenv(name) + s[start+2+end+1:]
	}
}

// secretMask replaces secret values in sanitized configs.
const secretMask = "***REDACTED***"

// Sanitize returns a copy safe for admin API responses: credential fields
// and any header whose name suggests a secret are masked.
func Sanitize(d *Destination) *Destination {
	out := d.Clone()
	if out.Token != "" {
		out.Token = secretMask
	}
	if out.APIKey != "" {
		out.APIKey = secretMask
	}
	if out.Password != "" {
		out.Password = secretMask
	}
	if out.HMACSecret != "" {
		out.HMACSecret = secretMask
	}
	for name := range out.Headers {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "auth") || strings.Contains(lower, "token") || strings.Contains(lower, "key") || strings.Contains(lower, "secret") {
			out.Headers[name] = secretMask
		}
	}
	return out
}

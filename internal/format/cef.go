package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgegate/siem-exporter/internal/envelope"
)

// cefSeverity maps envelope severities onto the 0-10 CEF scale.
var cefSeverity = map[string]int{
	envelope.SeverityLow:      3,
	envelope.SeverityMedium:   5,
	envelope.SeverityHigh:     7,
	envelope.SeverityCritical: 10,
}

// ToCEF renders the envelope as a Common Event Format line:
//
//	CEF:0|Vendor|Product|Version|Signature|Name|Severity|ext
func ToCEF(env *envelope.Envelope) string {
	severity, ok := cefSeverity[strings.ToUpper(env.Severity)]
	if !ok {
		severity = cefSeverity[envelope.SeverityLow]
	}

	signature := cefEscape(strings.ToUpper(env.EventType))
	name := cefEscape(env.Description)

	var ext []string
	add := func(key, value string) {
		if value == "" {
			return
		}
		ext = append(ext, key+"="+cefEscape(value))
	}

	add("src", env.Actor.ClientIP)
	suser := env.Actor.UserEmail
	if suser == "" {
		suser = env.Actor.UserID
	}
	add("suser", suser)
	add("msg", env.Description)
	add("cs1", env.CorrelationID())
	add("cs1Label", "CorrelationID")
	add("cn1", strconv.Itoa(env.Threat.FailedAttempts))
	add("cn1Label", "FailedAttempts")
	add("cfp1", formatScore(env.Threat.Score))
	add("cfp1Label", "ThreatScore")

	return strings.TrimRight(fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		Vendor, Product, env.Source.Version, signature, name, severity, strings.Join(ext, " ")), " ")
}

// cefEscape escapes CEF special characters. Newlines become spaces so the
// record stays a single line.
func cefEscape(value string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`|`, `\|`,
		`=`, `\=`,
		"\n", " ",
	)
	return r.Replace(value)
}

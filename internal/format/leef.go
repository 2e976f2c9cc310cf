package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgegate/siem-exporter/internal/envelope"
)

// ToLEEF renders the envelope as a Log Event Extended Format 2.0 line with
// tab-separated key=value attributes.
func ToLEEF(env *envelope.Envelope) string {
	header := fmt.Sprintf("LEEF:2.0|%s|%s|%s|%s|",
		Vendor, Product, env.Source.Version, strings.ToUpper(env.EventType))

	var parts []string
	add := func(key, value string) {
		if value == "" {
			return
		}
		parts = append(parts, key+"="+leefEscape(value))
	}

	suser := env.Actor.UserEmail
	if suser == "" {
		suser = env.Actor.UserID
	}

	add("src", env.Actor.ClientIP)
	add("usrName", suser)
	add("msg", env.Description)
	add("severity", env.Severity)
	add("cat", env.Category)
	add("threatScore", formatScore(env.Threat.Score))
	add("failedAttempts", strconv.Itoa(env.Threat.FailedAttempts))
	add("correlationId", env.CorrelationID())

	return header + "\t" + strings.Join(parts, "\t")
}

// leefEscape keeps the record a single line of tab-separated pairs.
// Unlike CEF, pipe and equals are not escaped.
func leefEscape(value string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"\t", " ",
		"\n", " ",
	)
	return r.Replace(value)
}

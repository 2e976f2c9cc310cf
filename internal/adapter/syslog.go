package adapter

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/edgegate/siem-exporter/internal/destination"
	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/format"
)

// syslogSeverity maps envelope severities to syslog severity codes.
// Unknown severities report as informational.
var syslogSeverity = map[string]int{
	envelope.SeverityCritical: 2,
	envelope.SeverityHigh:     3,
	envelope.SeverityMedium:   4,
	envelope.SeverityLow:      6,
}

func (s *Sender) sendSyslog(ctx context.Context, dest *destination.Destination, env *envelope.Envelope, payload format.Payload) error {
	message := payload.String()
	if dest.WrapSyslog() {
		message = s.wrapSyslog(dest, env, message)
	}

	addr := net.JoinHostPort(dest.Host, strconv.Itoa(dest.Port))
	conn, err := s.dialer.DialContext(ctx, dest.Protocol, addr)
	if err != nil {
		return deliveryWrap(err, "dial syslog collector")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(s.dialer.Timeout))
	}

	if dest.Protocol == "tcp" {
		message += "\n"
	}
	if _, err := conn.Write([]byte(message)); err != nil {
		return deliveryWrap(err, "write syslog message")
	}
	return nil
}

// wrapSyslog produces an RFC 5424 style header around the formatted payload:
// <PRI>1 TIMESTAMP HOSTNAME APP-NAME PROCID MSGID - MSG.
func (s *Sender) wrapSyslog(dest *destination.Destination, env *envelope.Envelope, message string) string {
	severity, ok := syslogSeverity[env.Severity]
	if !ok {
		severity = 6
	}
	pri := dest.Facility*8 + severity

	msgID := env.EventType
	if msgID == "" {
		msgID = "-"
	}

	return fmt.Sprintf("<%d>1 %s %s %s %d %s - %s",
		pri,
		env.Timestamp.UTC().Format(time.RFC3339),
		s.hostname,
		dest.AppName,
		s.pid,
		msgID,
		message,
	)
}

// Package adapter delivers formatted events to external SIEM sinks. Each
// destination type has its own send path behind the shared Sender; failures
// come back as *DeliveryError and are handled per destination by the
// dispatcher, never propagated past it.
package adapter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/edgegate/siem-exporter/internal/destination"
	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/format"
)

// DeliveryError reports a failed delivery attempt to one destination.
type DeliveryError struct {
	Status int // HTTP status when applicable, 0 otherwise
	Msg    string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func deliveryErrorf(status int, msg string, args ...any) *DeliveryError {
	return &DeliveryError{Status: status, Msg: fmt.Sprintf(msg, args...)}
}

func deliveryWrap(err error, msg string) *DeliveryError {
	return &DeliveryError{Msg: msg, Err: err}
}

// Sender dispatches one formatted event to one destination. A single Sender
// is shared by the worker loop; it holds the HTTP client and the host
// identity stamped into Splunk, Datadog and syslog payloads.
type Sender struct {
	httpClient *http.Client
	dialer     *net.Dialer
	hostname   string
	pid        int
}

// NewSender builds a Sender with the given per-request timeout.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Sender{
		httpClient: &http.Client{Timeout: timeout},
		dialer:     &net.Dialer{Timeout: timeout},
		hostname:   hostname,
		pid:        os.Getpid(),
	}
}

// Send delivers one formatted event to dest. env is the redacted envelope
// the payload was formatted from; adapters read timestamps and identity
// fields from it.
func (s *Sender) Send(ctx context.Context, dest *destination.Destination, env *envelope.Envelope, payload format.Payload) error {
	switch dest.Type {
	case destination.TypeSplunkHEC:
		return s.sendSplunk(ctx, dest, env, payload)
	case destination.TypeDatadog:
		return s.sendDatadog(ctx, dest, env, payload)
	case destination.TypeElasticsearch:
		return s.sendElasticsearch(ctx, dest, env, payload)
	case destination.TypeWebhook:
		return s.sendWebhook(ctx, dest, env, payload)
	case destination.TypeSyslog:
		return s.sendSyslog(ctx, dest, env, payload)
	default:
		return deliveryErrorf(0, "unsupported destination type %q", dest.Type)
	}
}

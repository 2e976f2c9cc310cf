package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/edgegate/siem-exporter/internal/destination"
	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/format"
)

// datadogEntry is one element of the logs intake batch. The intake endpoint
// always takes an array, even for a single event.
type datadogEntry struct {
	DDSource   string `json:"ddsource"`
	DDTags     string `json:"ddtags,omitempty"`
	Hostname   string `json:"hostname"`
	Service    string `json:"service"`
	Message    string `json:"message"`
	Status     string `json:"status"`
	Attributes any    `json:"attributes,omitempty"`
}

func (s *Sender) sendDatadog(ctx context.Context, dest *destination.Destination, env *envelope.Envelope, payload format.Payload) error {
	entry := datadogEntry{
		DDSource: env.Source.Service,
		DDTags:   strings.Join(dest.Tags, ","),
		Hostname: s.hostname,
		Service:  dest.Service,
		Status:   strings.ToLower(env.Severity),
	}
	if entry.DDSource == "" {
		entry.DDSource = "edgegate"
	}
	if entry.Service == "" {
		entry.Service = entry.DDSource
	}
	if payload.IsText() {
		entry.Message = payload.Text
	} else {
		entry.Message = env.Description
		entry.Attributes = payload.Object
	}

	body, err := json.Marshal([]datadogEntry{entry})
	if err != nil {
		return deliveryWrap(err, "marshal datadog entry")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		return deliveryWrap(err, "create datadog request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", dest.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return deliveryWrap(err, "send to datadog")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return deliveryErrorf(resp.StatusCode, "datadog returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/edgegate/siem-exporter/internal/destination"
	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/format"
)

// splunkEvent is the HEC event wrapper. Time is epoch seconds as Splunk
// expects; Event carries the envelope object or the cef/leef line.
type splunkEvent struct {
	Time       float64 `json:"time"`
	Host       string  `json:"host"`
	Source     string  `json:"source"`
	SourceType string  `json:"sourcetype"`
	Index      string  `json:"index,omitempty"`
	Event      any     `json:"event"`
}

func (s *Sender) sendSplunk(ctx context.Context, dest *destination.Destination, env *envelope.Envelope, payload format.Payload) error {
	event := splunkEvent{
		Time:       float64(env.Timestamp.UnixNano()) / 1e9,
		Host:       s.hostname,
		Source:     dest.Source,
		SourceType: dest.SourceType,
		Index:      dest.Index,
		Event:      payload.Value(),
	}
	if event.Source == "" {
		event.Source = env.Source.Service
	}
	if event.SourceType == "" {
		event.SourceType = env.Source.Service
	}

	body, err := json.Marshal(event)
	if err != nil {
		return deliveryWrap(err, "marshal splunk event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		return deliveryWrap(err, "create splunk request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Splunk "+dest.Token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return deliveryWrap(err, "send to splunk hec")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return deliveryErrorf(resp.StatusCode, "splunk hec returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

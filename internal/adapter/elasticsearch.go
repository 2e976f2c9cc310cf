package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/edgegate/siem-exporter/internal/destination"
	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/format"
)

func (s *Sender) sendElasticsearch(ctx context.Context, dest *destination.Destination, env *envelope.Envelope, payload format.Payload) error {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{dest.URL},
		Username:  dest.Username,
		Password:  dest.Password,
		Transport: s.httpClient.Transport,
	})
	if err != nil {
		return deliveryWrap(err, "create elasticsearch client")
	}

	var doc any = payload.Object
	if payload.IsText() {
		doc = map[string]any{
			"@timestamp": env.Timestamp,
			"message":    payload.Text,
		}
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return deliveryWrap(err, "marshal elasticsearch document")
	}

	action, err := json.Marshal(map[string]any{
		"index": map[string]any{"_index": expandIndexPattern(dest.IndexPattern, env)},
	})
	if err != nil {
		return deliveryWrap(err, "marshal bulk action")
	}

	var body bytes.Buffer
	body.Write(action)
	body.WriteByte('\n')
	body.Write(docBytes)
	body.WriteByte('\n')

	req := opensearchapi.BulkRequest{Body: bytes.NewReader(body.Bytes())}
	res, err := req.Do(ctx, client)
	if err != nil {
		return deliveryWrap(err, "bulk index into elasticsearch")
	}
	defer res.Body.Close()

	if res.IsError() {
		respBody, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return deliveryErrorf(res.StatusCode, "elasticsearch returned status %s: %s", res.Status(), string(respBody))
	}

	// Bulk responds 200 even when items fail; check the errors flag.
	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err == nil && bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, result := range item {
				if result.Error != nil {
					return deliveryErrorf(result.Status, "elasticsearch rejected document: %s: %s", result.Error.Type, result.Error.Reason)
				}
			}
		}
		return deliveryErrorf(0, "elasticsearch rejected document")
	}
	return nil
}

// expandIndexPattern resolves strftime-style date placeholders in the index
// pattern against the event timestamp (UTC). Supported: %Y %m %d %H, and %%
// for a literal percent.
func expandIndexPattern(pattern string, env *envelope.Envelope) string {
	ts := env.Timestamp.UTC()
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '%' || i+1 == len(pattern) {
			b.WriteByte(pattern[i])
			continue
		}
		i++
		switch pattern[i] {
		case 'Y':
			fmt.Fprintf(&b, "%04d", ts.Year())
		case 'm':
			fmt.Fprintf(&b, "%02d", int(ts.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", ts.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", ts.Hour())
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(pattern[i])
		}
	}
	return b.String()
}

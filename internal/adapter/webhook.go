package adapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"os"
	"text/template"

	"github.com/edgegate/siem-exporter/internal/destination"
	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/format"
)

func (s *Sender) sendWebhook(ctx context.Context, dest *destination.Destination, env *envelope.Envelope, payload format.Payload) error {
	body, err := webhookBody(dest, env, payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, dest.Method, dest.URL, bytes.NewReader(body))
	if err != nil {
		return deliveryWrap(err, "create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range dest.Headers {
		req.Header.Set(name, value)
	}

	if dest.HMACSecret != "" {
		sig, err := signBody(dest.HMACAlgorithm, dest.HMACSecret, body)
		if err != nil {
			return err
		}
		req.Header.Set(dest.HMACHeader, sig)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return deliveryWrap(err, "send to webhook")
	}
	defer resp.Body.Close()

	if !statusAccepted(resp.StatusCode, dest.ExpectedStatusCodes) {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return deliveryErrorf(resp.StatusCode, "webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// webhookBody renders the request body: the custom template when one is
// configured, otherwise the formatted payload as-is. Templates execute
// against the redacted envelope, never the raw event.
func webhookBody(dest *destination.Destination, env *envelope.Envelope, payload format.Payload) ([]byte, error) {
	text := dest.Template
	if text == "" && dest.TemplateFile != "" {
		data, err := os.ReadFile(dest.TemplateFile)
		if err != nil {
			return nil, deliveryWrap(err, "read webhook template file")
		}
		text = string(data)
	}
	if text == "" {
		body, err := payload.MarshalBody()
		if err != nil {
			return nil, deliveryWrap(err, "marshal webhook body")
		}
		return body, nil
	}

	tmpl, err := template.New(dest.Name).Parse(text)
	if err != nil {
		return nil, deliveryWrap(err, "parse webhook template")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return nil, deliveryWrap(err, "render webhook template")
	}
	return buf.Bytes(), nil
}

// signBody computes the hex HMAC of the exact request bytes.
func signBody(algorithm, secret string, body []byte) (string, error) {
	var newHash func() hash.Hash
	switch algorithm {
	case "sha1":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return "", deliveryErrorf(0, "unsupported hmac algorithm %q", algorithm)
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// statusAccepted checks the response code against the configured allow-list,
// or any non-error status when no list is set.
func statusAccepted(status int, expected []int) bool {
	if len(expected) == 0 {
		return status < http.StatusBadRequest
	}
	for _, code := range expected {
		if status == code {
			return true
		}
	}
	return false
}

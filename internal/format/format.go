// Package format converts redacted envelopes into destination wire
// representations. Converters are pure functions: same envelope in, same
// bytes out.
package format

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/edgegate/siem-exporter/internal/envelope"
)

// Kind selects the wire representation for a destination.
type Kind string

const (
	KindJSON Kind = "json"
	KindCEF  Kind = "cef"
	KindLEEF Kind = "leef"
)

// Vendor and Product identify this exporter in CEF/LEEF headers.
const (
	Vendor  = "EdgeGate"
	Product = "Gateway"
)

// Kinds lists every supported format.
func Kinds() []Kind {
	return []Kind{KindJSON, KindCEF, KindLEEF}
}

// Valid reports whether k names a supported format.
func (k Kind) Valid() bool {
	switch k {
	case KindJSON, KindCEF, KindLEEF:
		return true
	}
	return false
}

// Payload is a formatted event ready for an adapter. Exactly one of Object
// (json format) or Text (cef/leef line) is set.
type Payload struct {
	Object *envelope.Envelope
	Text   string
}

// IsText reports whether the payload is a preformatted line.
func (p Payload) IsText() bool {
	return p.Object == nil
}

// Value returns the payload as the value to embed in a JSON body: the
// envelope object for json format, the line for cef/leef.
func (p Payload) Value() any {
	if p.Object != nil {
		return p.Object
	}
	return p.Text
}

// MarshalBody renders the payload as standalone JSON bytes.
func (p Payload) MarshalBody() ([]byte, error) {
	return json.Marshal(p.Value())
}

// String renders the payload as a single line: the line itself for cef/leef,
// compact JSON for json format.
func (p Payload) String() string {
	if p.IsText() {
		return p.Text
	}
	data, err := json.Marshal(p.Object)
	if err != nil {
		return ""
	}
	return string(data)
}

// Convert formats an already-redacted envelope for the given kind.
func Convert(kind Kind, env *envelope.Envelope) (Payload, error) {
	switch kind {
	case KindJSON, "":
		return Payload{Object: env}, nil
	case KindCEF:
		return Payload{Text: ToCEF(env)}, nil
	case KindLEEF:
		return Payload{Text: ToLEEF(env)}, nil
	default:
		return Payload{}, fmt.Errorf("unsupported format %q", kind)
	}
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'g', -1, 64)
}

package client

import (
	"net/url"

	"github.com/nghyane/restbridge/internal/json"
)

// Envelope is the response contract every endpoint is expected to honor.
// Success is the authoritative outcome flag; some backends return HTTP 200
// with success=false, and interpreting that is the caller's responsibility.
type Envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// DecodeData unmarshals the envelope's data payload into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Request describes one outbound call. It is immutable input to the
// pipeline: retry counters and replay markers live on internal per-dispatch
// state, never on this struct.
type Request struct {
	// Method is the HTTP verb.
	Method string

	// Path is resolved against the configured base URL.
	Path string

	// Query is appended to the URL when non-empty.
	Query url.Values

	// Body is marshaled to JSON unless it is already []byte or RawMessage.
	Body any

	// Headers override the configured defaults per key.
	Headers map[string]string

	// Silent suppresses user-facing notification of terminal failures.
	// The structured error is still returned to the caller.
	Silent bool
}

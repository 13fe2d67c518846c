package skill

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names set by the Alexa service on skill requests.
const (
	SignatureHeader    = "Signature"
	Signature256Header = "Signature-256"
	CertChainURLHeader = "SignatureCertChainUrl"
)

// Request is what the verifiers check. Body must be the exact bytes received
// on the wire; re-encoding it breaks the signature.
type Request struct {
	// Signature is the base64 encoded signature of Body.
	Signature string

	// CertChainURL is where the signing certificate chain is published.
	CertChainURL string

	// Body is the raw request envelope.
	Body []byte

	// Timestamp is the creation time declared inside the envelope.
	Timestamp time.Time
}

// NewRequest assembles a Request from HTTP headers, the raw body and its
// decoded envelope. Signature-256 is preferred over Signature when both are set.
func NewRequest(headers http.Header, body []byte, env *Envelope) *Request {
	signature := headers.Get(Signature256Header)
	if signature == "" {
		signature = headers.Get(SignatureHeader)
	}

	req := &Request{
		Signature:    signature,
		CertChainURL: headers.Get(CertChainURLHeader),
		Body:         body,
	}
	if env != nil {
		req.Timestamp = env.Request.Timestamp.Time
	}
	return req
}

// Envelope is the subset of the Alexa request envelope needed for
// verification and dispatch. Unknown fields are ignored.
type Envelope struct {
	Version string          `json:"version"`
	Session *Session        `json:"session,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
	Request EnvelopeRequest `json:"request"`
}

// Session carries the skill session, absent for out-of-session requests.
type Session struct {
	New         bool           `json:"new"`
	SessionID   string         `json:"sessionId"`
	Application Application    `json:"application"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Application identifies the skill.
type Application struct {
	ApplicationID string `json:"applicationId"`
}

// EnvelopeRequest is the request part of the envelope.
type EnvelopeRequest struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Timestamp Timestamp       `json:"timestamp"`
	Locale    string          `json:"locale,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the raw request object for skills that need more fields.
func (r *EnvelopeRequest) UnmarshalJSON(data []byte) error {
	type plain EnvelopeRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = EnvelopeRequest(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ApplicationID returns the skill id from the session, if present.
func (e *Envelope) ApplicationID() string {
	if e.Session == nil {
		return ""
	}
	return e.Session.Application.ApplicationID
}

// ParseEnvelope decodes body without modifying it.
func ParseEnvelope(body []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty request envelope")
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode request envelope: %w", err)
	}
	return &env, nil
}

// Timestamp accepts ISO 8601 strings and epoch milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	millis, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(millis)
	return nil
}

// MarshalJSON renders the timestamp as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

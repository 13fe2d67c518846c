package testpki

import (
	"bytes"
	"io"
	"net/http"
	"sync"

	"github.com/stretchr/testify/mock"
)

// Responder produces the response for the n-th (1-based) round trip.
type Responder func(n int, req *http.Request) (*http.Response, error)

// Transport is a mock http.RoundTripper. Every round trip is recorded as a
// "RoundTrip" call with the requested URL, so tests can use the usual
// AssertCalled / AssertNumberOfCalls helpers; the response comes from a
// Responder.
type Transport struct {
	mock.Mock

	mu      sync.Mutex
	calls   int
	respond Responder
}

// NewTransport creates a transport that accepts any URL.
func NewTransport(respond Responder) *Transport {
	t := &Transport{respond: respond}
	t.On("RoundTrip", mock.AnythingOfType("string"))
	return t
}

// ServeChain answers every request with 200 and the given PEM chain.
func ServeChain(chain []byte) *Transport {
	return NewTransport(func(_ int, req *http.Request) (*http.Response, error) {
		return Response(req, http.StatusOK, chain), nil
	})
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.Called(req.URL.String())

	t.mu.Lock()
	t.calls++
	n := t.calls
	t.mu.Unlock()
	return t.respond(n, req)
}

// Calls returns how many requests were issued.
func (t *Transport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Client wraps the transport in an http.Client.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// Response builds a minimal response for req.
func Response(req *http.Request, status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
}

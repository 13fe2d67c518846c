// Package certchain resolves and caches the X.509 certificates that sign
// Alexa skill requests.
//
// A certificate is downloaded from its SignatureCertChainUrl only after the
// URL passes the trust anchor constraints, and is cached only after the full
// chain, the validity window and the subject alternative name all check out.
package certchain

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Retry defaults for certificate retrieval.
const (
	DefaultRetryCount = 5
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultFetchTimeout bounds a single download attempt.
	DefaultFetchTimeout = 10 * time.Second

	// maxChainBytes caps how much of a response body is read as a certificate chain.
	maxChainBytes = 64 << 10
)

var errChainTooLarge = fmt.Errorf("certificate chain exceeds %d bytes", maxChainBytes)

// Resolver fetches, validates and caches signing certificates.
// It is safe for concurrent use.
type Resolver struct {
	client      *http.Client
	proxy       *url.URL
	cache       *Cache
	constraints Constraints
	roots       *x509.CertPool
	retries     int
	retryDelay  time.Duration
	now         func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used to download certificate chains.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithProxy routes certificate downloads through proxyURL.
// It replaces the transport of the configured client.
func WithProxy(proxyURL *url.URL) Option {
	return func(r *Resolver) {
		r.proxy = proxyURL
	}
}

// WithCache shares an existing cache with the resolver.
func WithCache(cache *Cache) Option {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithRoots sets the root pool chains are verified against.
// A nil pool means the platform's system roots.
func WithRoots(roots *x509.CertPool) Option {
	return func(r *Resolver) {
		r.roots = roots
	}
}

// WithRetry overrides the retry count and the fixed delay between attempts.
func WithRetry(retries int, delay time.Duration) Option {
	return func(r *Resolver) {
		if retries < 0 {
			retries = 0
		}
		r.retries = retries
		r.retryDelay = delay
	}
}

// WithClock overrides the current time (for testing).
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithConstraints overrides the trust anchor constraints.
func WithConstraints(c Constraints) Option {
	return func(r *Resolver) {
		r.constraints = c
	}
}

// NewResolver creates a Resolver with the Alexa trust anchor constraints,
// system roots, an empty cache and the default retry policy.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:      &http.Client{Timeout: DefaultFetchTimeout},
		constraints: DefaultConstraints(),
		retries:     DefaultRetryCount,
		retryDelay:  DefaultRetryDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewCache()
	}
	if r.proxy != nil {
		r.client = proxiedClient(r.client, r.proxy)
	}
	return r
}

// proxiedClient copies client with a transport that routes through proxy.
// The client's own *http.Transport is cloned so its TLS and dial settings
// survive; any other RoundTripper is replaced by the default transport.
func proxiedClient(client *http.Client, proxy *url.URL) *http.Client {
	var transport *http.Transport
	if t, ok := client.Transport.(*http.Transport); ok && t != nil {
		transport = t.Clone()
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	transport.Proxy = http.ProxyURL(proxy)

	proxied := *client
	proxied.Transport = transport
	return &proxied
}

// HTTPClient returns the client used to download certificate chains.
func (r *Resolver) HTTPClient() *http.Client {
	return r.client
}

// Cache returns the cache backing the resolver.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Cached returns the certificate cached for rawURL without validating it.
func (r *Resolver) Cached(rawURL string) (*x509.Certificate, bool) {
	return r.cache.Get(rawURL)
}

// Resolve returns a verified, unexpired signing certificate for rawURL.
// A cached certificate is returned without network access while now is
// before its NotAfter; otherwise the chain is downloaded and fully validated.
// Every error is a *CertificateError.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*x509.Certificate, error) {
	chain, err := r.ResolveChain(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return chain[0], nil
}

// ResolveChain is Resolve returning the whole verified chain as served,
// leaf first.
func (r *Resolver) ResolveChain(ctx context.Context, rawURL string) ([]*x509.Certificate, error) {
	now := r.now()
	if chain, ok := r.cache.GetChain(rawURL); ok && now.Before(chain[0].NotAfter) {
		if now.Before(chain[0].NotBefore) {
			return nil, newError(CodeExpired, rawURL, "cached certificate is not yet valid")
		}
		return chain, nil
	}

	target, err := r.constraints.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	chain, err := r.retrieveAndVerify(ctx, rawURL, target)
	if err != nil {
		return nil, err
	}

	r.cache.Put(rawURL, chain...)
	return chain, nil
}

// retrieveAndVerify downloads the chain, retrying transport failures only.
func (r *Resolver) retrieveAndVerify(ctx context.Context, rawURL string, target *url.URL) ([]*x509.Certificate, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			if err := r.wait(ctx); err != nil {
				return nil, wrapError(CodeFetchFailed, rawURL, "certificate retrieval cancelled", err)
			}
		}

		data, err := r.fetch(ctx, target)
		if errors.Is(err, errChainTooLarge) {
			return nil, wrapError(CodeMalformed, rawURL, "certificate chain is too large", err)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, wrapError(CodeFetchFailed, rawURL, "certificate retrieval cancelled", ctxErr)
			}
			lastErr = err
			continue
		}

		return r.verifyChain(rawURL, data)
	}

	return nil, wrapError(CodeFetchFailed, rawURL,
		fmt.Sprintf("unable to retrieve certificate after %d attempts", r.retries+1), lastErr)
}

func (r *Resolver) wait(ctx context.Context) error {
	timer := time.NewTimer(r.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Resolver) fetch(ctx context.Context, target *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch certificate chain: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch certificate chain: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChainBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate chain: %w", err)
	}
	if len(data) > maxChainBytes {
		return nil, errChainTooLarge
	}
	return data, nil
}

// verifyChain parses data and checks validity, chain of trust and SAN.
func (r *Resolver) verifyChain(rawURL string, data []byte) ([]*x509.Certificate, error) {
	chain, err := ParseChain(data)
	if err != nil {
		return nil, wrapError(CodeMalformed, rawURL, "unable to parse certificate chain", err)
	}

	leaf := chain[0]
	now := r.now()
	if err := CheckValidity(leaf, now); err != nil {
		return nil, wrapError(CodeExpired, rawURL, "signing certificate is not valid at the current time", err)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:         r.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return nil, wrapError(CodeUntrusted, rawURL, "unable to verify certificate chain", err)
	}

	if !HasDNSName(leaf, r.constraints.DomainName) {
		return nil, newError(CodeDomainMismatch, rawURL,
			fmt.Sprintf("signing certificate is not valid for %s", r.constraints.DomainName))
	}

	return chain, nil
}

// ParseChain decodes a PEM bundle, or DER bytes when no PEM block is present,
// into certificates in their original order. The first one is the leaf.
func ParseChain(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}

	if len(chain) == 0 && len(data) > 0 {
		certs, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, err
		}
		chain = certs
	}

	if len(chain) == 0 {
		return nil, errors.New("no certificates found")
	}
	return chain, nil
}

// CheckValidity reports an error when now is outside [NotBefore, NotAfter].
func CheckValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate not valid until %s", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate expired at %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// HasDNSName reports whether one of the certificate's DNS-type subject
// alternative names equals name exactly.
func HasDNSName(cert *x509.Certificate, name string) bool {
	for _, dnsName := range cert.DNSNames {
		if dnsName == name {
			return true
		}
	}
	return false
}

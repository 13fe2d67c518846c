package certchain_test

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/skillguard/skillguard-core/internal/testpki"
	"github.com/skillguard/skillguard-core/pkg/certchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const certURL = "https://s3.amazonaws.com/echo.api/echo-api-cert.pem"

func newResolver(ca *testpki.CA, transport *testpki.Transport, opts ...certchain.Option) *certchain.Resolver {
	base := []certchain.Option{
		certchain.WithHTTPClient(transport.Client()),
		certchain.WithRoots(ca.Roots()),
		certchain.WithRetry(certchain.DefaultRetryCount, time.Millisecond),
	}
	return certchain.NewResolver(append(base, opts...)...)
}

func TestResolver_Resolve_Success(t *testing.T) {
	ca := testpki.NewCA(t)
	leaf := ca.IssueValid(t)
	transport := testpki.ServeChain(leaf.ChainPEM)

	resolver := newResolver(ca, transport)
	cert, err := resolver.Resolve(context.Background(), certURL)

	require.NoError(t, err)
	assert.True(t, cert.Equal(leaf.Cert))
	transport.AssertNumberOfCalls(t, "RoundTrip", 1)
	transport.AssertCalled(t, "RoundTrip", certURL)

	cached, ok := resolver.Cached(certURL)
	require.True(t, ok)
	assert.True(t, cached.Equal(leaf.Cert))
}

func TestResolver_Caching(t *testing.T) {
	ca := testpki.NewCA(t)
	leaf := ca.IssueValid(t)
	transport := testpki.ServeChain(leaf.ChainPEM)
	resolver := newResolver(ca, transport)

	// 1. First resolve - should hit network
	first, err := resolver.Resolve(context.Background(), certURL)
	require.NoError(t, err)
	assert.Equal(t, 1, transport.Calls())

	// 2. Second resolve - should hit cache
	second, err := resolver.Resolve(context.Background(), certURL)
	require.NoError(t, err)
	assert.Equal(t, 1, transport.Calls())
	assert.True(t, first.Equal(second))

	// 3. Flush cache
	resolver.Cache().Flush()
	assert.Equal(t, 0, resolver.Cache().Len())

	// 4. Third resolve - should hit network again
	_, err = resolver.Resolve(context.Background(), certURL)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.Calls())
}

func TestResolver_ExpiredCacheEntryIsRefetched(t *testing.T) {
	ca := testpki.NewCA(t)
	start := time.Now()
	shortLived := ca.Issue(t, start.Add(-time.Hour), start.Add(time.Hour), testpki.EchoDomain)
	renewed := ca.Issue(t, start.Add(-time.Hour), start.Add(5*time.Hour), testpki.EchoDomain)

	transport := testpki.NewTransport(func(n int, req *http.Request) (*http.Response, error) {
		if n == 1 {
			return testpki.Response(req, http.StatusOK, shortLived.ChainPEM), nil
		}
		return testpki.Response(req, http.StatusOK, renewed.ChainPEM), nil
	})

	now := start
	resolver := newResolver(ca, transport, certchain.WithClock(func() time.Time { return now }))

	cert, err := resolver.Resolve(context.Background(), certURL)
	require.NoError(t, err)
	assert.True(t, cert.Equal(shortLived.Cert))

	now = start.Add(2 * time.Hour)

	cert, err = resolver.Resolve(context.Background(), certURL)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.Calls())
	assert.True(t, cert.Equal(renewed.Cert))
}

func TestResolver_CachedCertificateNotYetValid(t *testing.T) {
	ca := testpki.NewCA(t)
	start := time.Now()
	leaf := ca.Issue(t, start.Add(-time.Hour), start.Add(time.Hour), testpki.EchoDomain)
	transport := testpki.ServeChain(leaf.ChainPEM)

	now := start
	resolver := newResolver(ca, transport, certchain.WithClock(func() time.Time { return now }))
	_, err := resolver.Resolve(context.Background(), certURL)
	require.NoError(t, err)

	now = start.Add(-2 * time.Hour)
	_, err = resolver.Resolve(context.Background(), certURL)
	assert.ErrorIs(t, err, certchain.ErrExpired)
	assert.Equal(t, 1, transport.Calls())
}

func TestResolver_InvalidURLMakesNoRequest(t *testing.T) {
	ca := testpki.NewCA(t)
	leaf := ca.IssueValid(t)

	urls := []string{
		"http://s3.amazonaws.com/echo.api/echo-api-cert.pem",
		"https://s3.evil.com/echo.api/echo-api-cert.pem",
		"https://s3.amazonaws.com/invalid.path/echo-api-cert.pem",
		"https://s3.amazonaws.com/EcHo.aPi/echo-api-cert.pem",
		"https://s3.amazonaws.com:563/echo.api/echo-api-cert.pem",
		"https://s3.amazonaws.com/echo.api/../invalid.path/echo-api-cert.pem",
		"ftp://s3.amazonaws.com/echo.api/echo-api-cert.pem",
		"not a url",
		"",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			transport := testpki.ServeChain(leaf.ChainPEM)
			resolver := newResolver(ca, transport)

			_, err := resolver.Resolve(context.Background(), u)

			assert.ErrorIs(t, err, certchain.ErrURLInvalid)
			transport.AssertNotCalled(t, "RoundTrip", mock.Anything)
			assert.Equal(t, 0, resolver.Cache().Len())
		})
	}
}

func TestResolver_RetriesNon200(t *testing.T) {
	ca := testpki.NewCA(t)
	transport := testpki.NewTransport(func(_ int, req *http.Request) (*http.Response, error) {
		return testpki.Response(req, http.StatusServiceUnavailable, nil), nil
	})
	resolver := newResolver(ca, transport)

	_, err := resolver.Resolve(context.Background(), certURL)

	require.Error(t, err)
	assert.ErrorIs(t, err, certchain.ErrFetchFailed)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, 6, transport.Calls())
	assert.Equal(t, 0, resolver.Cache().Len())
}

func TestResolver_SucceedsOnThirdAttempt(t *testing.T) {
	ca := testpki.NewCA(t)
	leaf := ca.IssueValid(t)
	transport := testpki.NewTransport(func(n int, req *http.Request) (*http.Response, error) {
		switch n {
		case 1:
			return testpki.Response(req, http.StatusInternalServerError, nil), nil
		case 2:
			return nil, errors.New("connection reset by peer")
		}
		return testpki.Response(req, http.StatusOK, leaf.ChainPEM), nil
	})
	resolver := newResolver(ca, transport)

	cert, err := resolver.Resolve(context.Background(), certURL)

	require.NoError(t, err)
	assert.True(t, cert.Equal(leaf.Cert))
	assert.Equal(t, 3, transport.Calls())
}

func TestResolver_ContentFailuresAreNotRetried(t *testing.T) {
	ca := testpki.NewCA(t)
	otherCA := testpki.NewCA(t)
	now := time.Now()

	tests := []struct {
		name    string
		chain   []byte
		wantErr error
	}{
		{
			name:    "expired leaf",
			chain:   ca.Issue(t, now.Add(-2*time.Hour), now.Add(-time.Hour), testpki.EchoDomain).ChainPEM,
			wantErr: certchain.ErrExpired,
		},
		{
			name:    "leaf not yet valid",
			chain:   ca.Issue(t, now.Add(time.Hour), now.Add(2*time.Hour), testpki.EchoDomain).ChainPEM,
			wantErr: certchain.ErrExpired,
		},
		{
			name:    "untrusted issuer",
			chain:   otherCA.IssueValid(t).ChainPEM,
			wantErr: certchain.ErrUntrusted,
		},
		{
			name:    "missing echo SAN",
			chain:   ca.Issue(t, now.Add(-time.Hour), now.Add(time.Hour), "example.com").ChainPEM,
			wantErr: certchain.ErrDomainMismatch,
		},
		{
			name:    "SAN match is exact",
			chain:   ca.Issue(t, now.Add(-time.Hour), now.Add(time.Hour), "ECHO-API.AMAZON.COM").ChainPEM,
			wantErr: certchain.ErrDomainMismatch,
		},
		{
			name:    "garbage body",
			chain:   []byte("not a certificate"),
			wantErr: certchain.ErrMalformed,
		},
		{
			name:    "empty body",
			chain:   nil,
			wantErr: certchain.ErrMalformed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport := testpki.ServeChain(tc.chain)
			resolver := newResolver(ca, transport)

			_, err := resolver.Resolve(context.Background(), certURL)

			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 1, transport.Calls())
			assert.Equal(t, 0, resolver.Cache().Len())
		})
	}
}

func TestResolver_CancelledDuringRetry(t *testing.T) {
	ca := testpki.NewCA(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := testpki.NewTransport(func(_ int, req *http.Request) (*http.Response, error) {
		cancel()
		return testpki.Response(req, http.StatusInternalServerError, nil), nil
	})
	resolver := newResolver(ca, transport, certchain.WithRetry(5, time.Hour))

	done := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(ctx, certURL)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, certchain.ErrFetchFailed)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("resolve did not return after cancellation")
	}
	assert.Equal(t, 1, transport.Calls())
	assert.Equal(t, 0, resolver.Cache().Len())
}

func TestResolver_SharedCache(t *testing.T) {
	ca := testpki.NewCA(t)
	leaf := ca.IssueValid(t)
	cache := certchain.NewCache()

	first := testpki.ServeChain(leaf.ChainPEM)
	_, err := newResolver(ca, first, certchain.WithCache(cache)).Resolve(context.Background(), certURL)
	require.NoError(t, err)

	second := testpki.ServeChain(leaf.ChainPEM)
	_, err = newResolver(ca, second, certchain.WithCache(cache)).Resolve(context.Background(), certURL)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Calls())
	assert.Equal(t, 0, second.Calls())
	assert.Equal(t, 1, cache.Len())
}

func TestResolver_FetchesNormalizedURL(t *testing.T) {
	ca := testpki.NewCA(t)
	leaf := ca.IssueValid(t)
	transport := testpki.ServeChain(leaf.ChainPEM)
	resolver := newResolver(ca, transport)

	raw := "https://s3.amazonaws.com/invalid.path/../echo.api/echo-api-cert.pem"
	_, err := resolver.Resolve(context.Background(), raw)

	require.NoError(t, err)
	transport.AssertCalled(t, "RoundTrip", certURL)
	transport.AssertNotCalled(t, "RoundTrip", raw)
	_, ok := resolver.Cached(raw)
	assert.True(t, ok)
}

func TestResolver_ResolveChain(t *testing.T) {
	ca := testpki.NewCA(t)
	leaf := ca.IssueValid(t)
	transport := testpki.ServeChain(leaf.ChainPEM)
	resolver := newResolver(ca, transport)

	// 1. The chain comes back as served, leaf first
	chain, err := resolver.ResolveChain(context.Background(), certURL)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.True(t, chain[0].Equal(leaf.Cert))
	assert.True(t, chain[1].Equal(ca.Cert))

	// 2. The cache keeps the chain, not only the leaf
	chain[1] = nil
	cached, ok := resolver.Cache().GetChain(certURL)
	require.True(t, ok)
	require.Len(t, cached, 2)
	assert.True(t, cached[1].Equal(ca.Cert))

	// 3. A second resolution is served from the cache
	again, err := resolver.ResolveChain(context.Background(), certURL)
	require.NoError(t, err)
	assert.Len(t, again, 2)
	transport.AssertNumberOfCalls(t, "RoundTrip", 1)
}

func TestResolver_OversizedChainIsMalformed(t *testing.T) {
	ca := testpki.NewCA(t)
	leaf := ca.IssueValid(t)
	body := append(append([]byte{}, leaf.ChainPEM...), bytes.Repeat([]byte("#"), 64<<10)...)
	transport := testpki.ServeChain(body)
	resolver := newResolver(ca, transport)

	_, err := resolver.Resolve(context.Background(), certURL)

	require.Error(t, err)
	assert.ErrorIs(t, err, certchain.ErrMalformed)
	assert.Contains(t, err.Error(), "too large")
	assert.Equal(t, 1, transport.Calls())
	assert.Equal(t, 0, resolver.Cache().Len())
}

func TestResolver_WithProxy(t *testing.T) {
	proxyURL, err := url.Parse("http://proxy.internal:3128")
	require.NoError(t, err)
	probeReq := httptest.NewRequest(http.MethodGet, certURL, nil)

	t.Run("keeps configured transport settings", func(t *testing.T) {
		base := &http.Transport{
			TLSClientConfig: &tls.Config{ServerName: "pinned.example", MinVersion: tls.VersionTLS12},
			MaxIdleConns:    7,
		}
		resolver := certchain.NewResolver(
			certchain.WithHTTPClient(&http.Client{Timeout: 3 * time.Second, Transport: base}),
			certchain.WithProxy(proxyURL),
		)

		client := resolver.HTTPClient()
		assert.Equal(t, 3*time.Second, client.Timeout)

		transport, ok := client.Transport.(*http.Transport)
		require.True(t, ok)
		assert.NotSame(t, base, transport)
		assert.Equal(t, "pinned.example", transport.TLSClientConfig.ServerName)
		assert.Equal(t, 7, transport.MaxIdleConns)
		assert.Nil(t, base.Proxy)

		got, err := transport.Proxy(probeReq)
		require.NoError(t, err)
		assert.Equal(t, proxyURL.String(), got.String())
	})

	t.Run("default client", func(t *testing.T) {
		resolver := certchain.NewResolver(certchain.WithProxy(proxyURL))

		client := resolver.HTTPClient()
		assert.Equal(t, certchain.DefaultFetchTimeout, client.Timeout)

		transport, ok := client.Transport.(*http.Transport)
		require.True(t, ok)
		got, err := transport.Proxy(probeReq)
		require.NoError(t, err)
		assert.Equal(t, proxyURL.String(), got.String())
	})

	t.Run("custom round tripper falls back to default transport", func(t *testing.T) {
		stub := testpki.ServeChain(nil)
		resolver := certchain.NewResolver(
			certchain.WithHTTPClient(stub.Client()),
			certchain.WithProxy(proxyURL),
		)

		_, ok := resolver.HTTPClient().Transport.(*http.Transport)
		assert.True(t, ok)
	})
}

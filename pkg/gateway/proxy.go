package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/skillguard/skillguard-core/pkg/skill"
)

// ApplicationIDHeader carries the verified skill id to the upstream.
const ApplicationIDHeader = "X-Skill-Application-Id"

// Gateway verifies skill requests and forwards the accepted ones to an
// upstream skill backend.
type Gateway struct {
	target  *url.URL
	proxy   *httputil.ReverseProxy
	handler http.Handler
}

// NewGateway creates a Gateway in front of targetURL.
func NewGateway(targetURL string, pipeline *skill.Pipeline, opts Options) (*Gateway, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid target URL %q: scheme and host are required", targetURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Header.Set("X-Forwarded-Host", req.Host)
		req.Header.Del(ApplicationIDHeader)
		if env, ok := EnvelopeFromContext(req.Context()); ok {
			if id := env.ApplicationID(); id != "" {
				req.Header.Set(ApplicationIDHeader, id)
			}
		}
		req.Host = target.Host
	}

	return &Gateway{
		target:  target,
		proxy:   proxy,
		handler: Middleware(pipeline, opts)(proxy),
	}, nil
}

// Target returns the upstream URL.
func (g *Gateway) Target() *url.URL {
	return g.target
}

// ServeHTTP implements the http.Handler interface.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

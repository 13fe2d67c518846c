package certchain

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Trust anchor defaults for Alexa Skills Kit signing certificates.
const (
	DefaultProtocol   = "https"
	DefaultHost       = "s3.amazonaws.com"
	DefaultPathPrefix = "/echo.api/"
	DefaultDomainName = "echo-api.amazon.com"
)

// Constraints describes where signing certificates may be downloaded from and
// which domain they must be issued for.
type Constraints struct {
	// Protocol is the required URL scheme, compared case-insensitively.
	Protocol string

	// Host is the required URL host, compared case-insensitively.
	Host string

	// PathPrefix must prefix the normalized URL path. Case-sensitive.
	PathPrefix string

	// DomainName must appear verbatim as a DNS subject alternative name on the leaf.
	DomainName string
}

// DefaultConstraints returns the constraints published for Alexa skill requests.
func DefaultConstraints() Constraints {
	return Constraints{
		Protocol:   DefaultProtocol,
		Host:       DefaultHost,
		PathPrefix: DefaultPathPrefix,
		DomainName: DefaultDomainName,
	}
}

// ValidateURL checks rawURL against the default constraints.
func ValidateURL(rawURL string) (*url.URL, error) {
	return DefaultConstraints().ValidateURL(rawURL)
}

// ValidateURL parses and normalizes rawURL and checks host, path prefix,
// protocol and port. The returned URL is the one that should be fetched.
func (c Constraints) ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, wrapError(CodeURLInvalid, rawURL, "certificate chain URL is malformed", err)
	}
	if !u.IsAbs() || u.Host == "" || u.Opaque != "" {
		return nil, newError(CodeURLInvalid, rawURL, "certificate chain URL is malformed")
	}

	u.Path = normalizePath(u.Path)
	u.RawPath = ""

	if !strings.EqualFold(u.Hostname(), c.Host) {
		return nil, newError(CodeURLInvalid, rawURL,
			fmt.Sprintf("certificate chain URL does not contain the required hostname of %s", c.Host))
	}

	if !strings.HasPrefix(u.Path, c.PathPrefix) {
		return nil, newError(CodeURLInvalid, rawURL,
			fmt.Sprintf("certificate chain URL path %s is invalid, expecting it to start with %s", u.Path, c.PathPrefix))
	}

	if !strings.EqualFold(u.Scheme, c.Protocol) {
		return nil, newError(CodeURLInvalid, rawURL,
			fmt.Sprintf("certificate chain URL contains an unsupported protocol %s", u.Scheme))
	}

	if port := u.Port(); port != "" && port != defaultPort(u.Scheme) {
		return nil, newError(CodeURLInvalid, rawURL,
			fmt.Sprintf("certificate chain URL contains an invalid port %s", port))
	}

	return u, nil
}

// normalizePath removes dot segments while keeping a trailing slash.
func normalizePath(p string) string {
	if p == "" {
		return p
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

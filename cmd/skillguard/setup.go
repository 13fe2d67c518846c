package main

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/skillguard/skillguard-core/internal/config"
	"github.com/skillguard/skillguard-core/pkg/certchain"
	"github.com/skillguard/skillguard-core/pkg/skill"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newResolver builds the certificate resolver described by cfg.
func newResolver(cfg config.CertsConfig) (*certchain.Resolver, error) {
	opts := []certchain.Option{
		certchain.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout()}),
	}

	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil || proxy.Host == "" {
			return nil, fmt.Errorf("invalid certs.proxy_url %q", cfg.ProxyURL)
		}
		opts = append(opts, certchain.WithProxy(proxy))
	}

	if cfg.RootsFile != "" {
		roots, err := loadRoots(cfg.RootsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, certchain.WithRoots(roots))
	}

	return certchain.NewResolver(opts...), nil
}

// loadRoots reads a PEM bundle into a pool.
func loadRoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roots file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// newPipeline builds the verification pipeline described by cfg.
func newPipeline(cfg config.VerifiersConfig, resolver *certchain.Resolver) (*skill.Pipeline, error) {
	return skill.Build(skill.Options{
		SignatureEnabled: cfg.Signature.Enabled,
		TimestampEnabled: cfg.Timestamp.Enabled,
		Tolerance:        cfg.Timestamp.Tolerance(),
		Resolver:         resolver,
	})
}

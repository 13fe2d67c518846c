package certchain

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// ToJWK renders a signing certificate chain as a public JSON Web Key whose
// x5c carries the chain and whose kid is the RFC 7638 SHA-256 thumbprint.
func ToJWK(chain []*x509.Certificate) (*jose.JSONWebKey, error) {
	if len(chain) == 0 {
		return nil, errors.New("empty certificate chain")
	}
	leaf := chain[0]

	jwk := jose.JSONWebKey{
		Key:          leaf.PublicKey,
		Certificates: chain,
		Algorithm:    string(jose.RS256),
		Use:          "sig",
	}
	if !jwk.Valid() {
		return nil, fmt.Errorf("unsupported public key type %T", leaf.PublicKey)
	}

	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	jwk.KeyID = base64.RawURLEncoding.EncodeToString(thumbprint)

	return &jwk, nil
}

// Package testpki issues throwaway RSA certificate chains for tests.
package testpki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// EchoDomain is the SAN Alexa signing certificates carry.
const EchoDomain = "echo-api.amazon.com"

// CA is a self-signed root that can issue leaf certificates.
type CA struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// Leaf is an issued signing certificate with its private key and PEM chain.
type Leaf struct {
	Cert     *x509.Certificate
	Key      *rsa.PrivateKey
	ChainPEM []byte
}

// NewCA creates a root certificate valid for a day around now.
func NewCA(t testing.TB) *CA {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "skillguard test root"},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &CA{Cert: cert, Key: key}
}

// Roots returns a pool holding only the CA certificate.
func (ca *CA) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)
	return pool
}

// Issue creates a server-auth leaf valid between notBefore and notAfter,
// carrying dnsNames as subject alternative names.
func (ca *CA) Issue(t testing.TB, notBefore, notAfter time.Time, dnsNames ...string) *Leaf {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "echo-api.amazon.com"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	chain := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	chain = append(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw})...)

	return &Leaf{Cert: cert, Key: key, ChainPEM: chain}
}

// IssueValid creates a leaf valid for an hour either side of now with the Echo SAN.
func (ca *CA) IssueValid(t testing.TB) *Leaf {
	t.Helper()
	now := time.Now()
	return ca.Issue(t, now.Add(-time.Hour), now.Add(time.Hour), EchoDomain)
}

// Sign returns the base64 SHA256withRSA signature of body.
func (l *Leaf) Sign(t testing.TB, body []byte) string {
	t.Helper()
	digest := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, l.Key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

package skill

import (
	"context"
	"crypto/x509"
	"encoding/base64"

	"github.com/skillguard/skillguard-core/pkg/certchain"
)

// SignatureAlgorithm is the algorithm Alexa uses to sign request bodies.
const SignatureAlgorithm = x509.SHA256WithRSA

// SignatureVerifier checks that the request body was signed by the
// certificate published at the request's SignatureCertChainUrl.
type SignatureVerifier struct {
	resolver *certchain.Resolver
}

// NewSignatureVerifier creates a SignatureVerifier backed by resolver.
// A nil resolver gets a default one with its own cache.
func NewSignatureVerifier(resolver *certchain.Resolver) *SignatureVerifier {
	if resolver == nil {
		resolver = certchain.NewResolver()
	}
	return &SignatureVerifier{resolver: resolver}
}

// Resolver returns the certificate resolver in use.
func (v *SignatureVerifier) Resolver() *certchain.Resolver {
	return v.resolver
}

// Verify implements Verifier.
func (v *SignatureVerifier) Verify(ctx context.Context, req *Request) error {
	if req.Signature == "" || req.CertChainURL == "" {
		return NewError(CodeSignatureMissing, "missing signature/certificate for the provided skill request")
	}

	cert, err := v.resolver.Resolve(ctx, req.CertChainURL)
	if err != nil {
		return WrapError(CodeCertificateInvalid, "failed to verify the signing certificate for the provided skill request", err)
	}

	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return WrapError(CodeSignatureInvalid, "signature is not valid base64", err)
	}

	if err := cert.CheckSignature(SignatureAlgorithm, req.Body, signature); err != nil {
		return WrapError(CodeSignatureInvalid, "failed to verify the signature for the provided skill request", err)
	}

	return nil
}

package skill

import (
	"os"
	"strings"
	"time"

	"github.com/skillguard/skillguard-core/pkg/certchain"
)

// DisableSignatureCheckEnv turns off signature verification process-wide when
// set to "true". Meant for local development only, never production.
const DisableSignatureCheckEnv = "ASK_DISABLE_REQUEST_SIGNATURE_CHECK"

// Options selects and configures the verifiers of a pipeline.
type Options struct {
	// SignatureEnabled adds the SignatureVerifier.
	SignatureEnabled bool

	// TimestampEnabled adds the TimestampVerifier.
	TimestampEnabled bool

	// Tolerance is the timestamp tolerance, see DefaultTolerance.
	Tolerance time.Duration

	// Resolver is shared by the SignatureVerifier. Nil gets a default resolver.
	Resolver *certchain.Resolver

	// Now overrides the current time for the TimestampVerifier (for testing).
	Now func() time.Time
}

// DefaultOptions enables both verifiers with the default tolerance.
func DefaultOptions() Options {
	return Options{
		SignatureEnabled: true,
		TimestampEnabled: true,
		Tolerance:        DefaultTolerance,
	}
}

// SignatureCheckDisabled reports whether DisableSignatureCheckEnv is "true".
func SignatureCheckDisabled() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(DisableSignatureCheckEnv)), "true")
}

// Build assembles the pipeline described by opts. The timestamp check runs
// first since it needs no network access.
func Build(opts Options) (*Pipeline, error) {
	var verifiers []Verifier

	if opts.TimestampEnabled {
		tv, err := NewTimestampVerifier(opts.Tolerance, opts.Now)
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, tv)
	}

	if opts.SignatureEnabled && !SignatureCheckDisabled() {
		verifiers = append(verifiers, NewSignatureVerifier(opts.Resolver))
	}

	return NewPipeline(verifiers...), nil
}

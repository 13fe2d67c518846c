// Package skill verifies that inbound Alexa skill requests were sent by the
// Alexa service: the body must carry a valid signature from an Amazon
// certificate and the declared timestamp must be recent.
//
// Usage:
//
//	pipeline, err := skill.Build(skill.DefaultOptions())
//	env, _ := skill.ParseEnvelope(body)
//	err = pipeline.Verify(ctx, skill.NewRequest(r.Header, body, env))
package skill

import (
	"context"
)

// Verifier checks one property of a skill request.
type Verifier interface {
	Verify(ctx context.Context, req *Request) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, req *Request) error

// Verify calls f(ctx, req).
func (f VerifierFunc) Verify(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// Pipeline runs every verifier in order and requires all of them to pass.
type Pipeline struct {
	verifiers []Verifier
}

// NewPipeline creates a pipeline from verifiers, run in the given order.
func NewPipeline(verifiers ...Verifier) *Pipeline {
	return &Pipeline{verifiers: verifiers}
}

// Len returns the number of configured verifiers.
func (p *Pipeline) Len() int {
	return len(p.verifiers)
}

// Verify returns the first failure as a *SecurityError, or nil when every
// verifier accepted the request.
func (p *Pipeline) Verify(ctx context.Context, req *Request) error {
	if req == nil {
		return NewError(CodeVerificationFailed, "missing skill request")
	}
	for _, v := range p.verifiers {
		if err := v.Verify(ctx, req); err != nil {
			if _, ok := AsSecurityError(err); ok {
				return err
			}
			return WrapError(CodeVerificationFailed, "skill request verification failed", err)
		}
	}
	return nil
}

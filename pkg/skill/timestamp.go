package skill

import (
	"context"
	"fmt"
	"time"
)

// Timestamp tolerance bounds.
const (
	// DefaultTolerance is how far the declared timestamp may drift from now
	// in either direction.
	DefaultTolerance = 150 * time.Second

	// MaxTolerance is the largest tolerance a TimestampVerifier accepts.
	MaxTolerance = time.Hour
)

// TimestampVerifier rejects requests whose declared timestamp is too far
// from the current time, which limits replay of captured requests.
type TimestampVerifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewTimestampVerifier creates a verifier with the given tolerance.
// now overrides the clock; nil means time.Now.
func NewTimestampVerifier(tolerance time.Duration, now func() time.Time) (*TimestampVerifier, error) {
	if tolerance < 0 {
		return nil, fmt.Errorf("timestamp tolerance must be non-negative, got %s", tolerance)
	}
	if tolerance > MaxTolerance {
		return nil, fmt.Errorf("timestamp tolerance %s exceeds the maximum of %s", tolerance, MaxTolerance)
	}
	if now == nil {
		now = time.Now
	}
	return &TimestampVerifier{tolerance: tolerance, now: now}, nil
}

// Tolerance returns the configured tolerance.
func (v *TimestampVerifier) Tolerance() time.Duration {
	return v.tolerance
}

// Verify implements Verifier. A difference equal to the tolerance passes.
func (v *TimestampVerifier) Verify(_ context.Context, req *Request) error {
	if req.Timestamp.IsZero() {
		return NewError(CodeTimestampInvalid, "request timestamp is missing")
	}

	delta := v.now().Sub(req.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > v.tolerance {
		return NewError(CodeTimestampInvalid,
			fmt.Sprintf("request timestamp %s is %s away from now, tolerance is %s",
				req.Timestamp.UTC().Format(time.RFC3339), delta.Round(time.Millisecond), v.tolerance))
	}
	return nil
}

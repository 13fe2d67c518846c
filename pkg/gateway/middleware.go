package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/skillguard/skillguard-core/pkg/skill"
)

// DefaultMaxBodyBytes caps the size of a skill request body.
const DefaultMaxBodyBytes int64 = 1 << 20

// Error codes produced by the HTTP layer itself.
const (
	CodeEnvelopeInvalid = "SKILL_ENVELOPE_INVALID"
	CodeBodyTooLarge    = "SKILL_BODY_TOO_LARGE"
	CodeNotHandled      = "SKILL_NOT_HANDLED"
	CodeSkillFailed     = "SKILL_HANDLER_FAILED"
)

type contextKey string

const contextKeyEnvelope contextKey = "skillguard-envelope"

// Options configures Middleware.
type Options struct {
	// MaxBodyBytes limits the body size; zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Logger receives verification failures; nil means slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ErrorBody is the JSON document returned for rejected requests.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EnvelopeFromContext returns the envelope stored by Middleware.
func EnvelopeFromContext(ctx context.Context) (*skill.Envelope, bool) {
	env, ok := ctx.Value(contextKeyEnvelope).(*skill.Envelope)
	return env, ok && env != nil
}

// Middleware verifies every request with pipeline before handing it to next.
// Only POST is accepted. The raw body is restored so downstream handlers can
// read it again.
func Middleware(pipeline *skill.Pipeline, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				writeError(w, http.StatusMethodNotAllowed, CodeEnvelopeInvalid, "skill requests must be POSTed")
				return
			}

			// 1. Read body
			body, err := readBody(w, r, opts.MaxBodyBytes)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "request body too large")
					return
				}
				writeError(w, http.StatusBadRequest, CodeEnvelopeInvalid, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			// 2. Decode envelope
			env, err := skill.ParseEnvelope(body)
			if err != nil {
				opts.Logger.Warn("skill request rejected",
					"code", CodeEnvelopeInvalid,
					"path", r.URL.Path,
					"error", err)
				writeError(w, http.StatusBadRequest, CodeEnvelopeInvalid, err.Error())
				return
			}

			// 3. Verify
			req := skill.NewRequest(r.Header, body, env)
			if err := pipeline.Verify(r.Context(), req); err != nil {
				code := skill.GetErrorCode(err)
				if code == "" {
					code = skill.CodeVerificationFailed
				}
				opts.Logger.Warn("skill request rejected",
					"code", code,
					"path", r.URL.Path,
					"cert_url", req.CertChainURL,
					"request_id", env.Request.RequestID,
					"error", err)
				writeError(w, http.StatusBadRequest, code, messageOf(err))
				return
			}

			// 4. Inject context
			ctx := context.WithValue(r.Context(), contextKeyEnvelope, env)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
}

func messageOf(err error) string {
	if secErr, ok := skill.AsSecurityError(err); ok {
		return secErr.Message
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Code: code, Message: message})
}

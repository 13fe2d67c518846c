package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/skillguard/skillguard-core/pkg/skill"
)

// Skill answers skill requests. Handle returns a nil response when the
// request is not meant for this skill.
type Skill interface {
	Handle(ctx context.Context, env *skill.Envelope) (json.RawMessage, error)
}

// SkillFunc adapts a function to the Skill interface.
type SkillFunc func(ctx context.Context, env *skill.Envelope) (json.RawMessage, error)

// Handle calls f(ctx, env).
func (f SkillFunc) Handle(ctx context.Context, env *skill.Envelope) (json.RawMessage, error) {
	return f(ctx, env)
}

// SkillHandler dispatches verified envelopes to skills in order. The first
// non-nil response is written back; if no skill answers the request is a 400.
type SkillHandler struct {
	skills []Skill
	logger *slog.Logger
}

// NewSkillHandler creates a handler for the given skills.
func NewSkillHandler(logger *slog.Logger, skills ...Skill) *SkillHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SkillHandler{skills: skills, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *SkillHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, CodeEnvelopeInvalid, "skill requests must be POSTed")
		return
	}

	env, ok := EnvelopeFromContext(r.Context())
	if !ok {
		// Not behind Middleware; decode without verification.
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeEnvelopeInvalid, "failed to read request body")
			return
		}
		env, err = skill.ParseEnvelope(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeEnvelopeInvalid, err.Error())
			return
		}
	}

	for _, s := range h.skills {
		resp, err := s.Handle(r.Context(), env)
		if err != nil {
			h.logger.Error("skill failed",
				"request_type", env.Request.Type,
				"request_id", env.Request.RequestID,
				"error", err)
			writeError(w, http.StatusInternalServerError, CodeSkillFailed, "skill failed to handle the request")
			return
		}
		if resp != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(resp)
			return
		}
	}

	writeError(w, http.StatusBadRequest, CodeNotHandled, "no skill could handle the request")
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/fluia/leadmagnet/internal/domain"
	"github.com/fluia/leadmagnet/internal/identity"
	"github.com/fluia/leadmagnet/internal/session"
)

const maxAnswerBytes = 64 << 10

// Context keys the completion payload is built from.
const (
	companyKey = "empresa_actividad"
	emailKey   = "email_contacto"
)

// Completion is what the page shows once the form is done.
type Completion struct {
	Company string `json:"company"`
	Email   string `json:"email"`
}

type sessionResponse struct {
	Session    domain.Session `json:"session"`
	Variant    string         `json:"variant"`
	Completion *Completion    `json:"completion,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type answerRequest struct {
	Answer json.RawMessage `json:"answer" validate:"required"`
}

// operation is an orchestrator transition exposed as a POST endpoint.
type operation func(*session.Orchestrator, context.Context) (domain.Session, error)

// RegisterRoutes registers session routes. answerLimit wraps the answer
// endpoint, which is the only one that reaches the remote service.
func (h *Handler) RegisterRoutes(r chi.Router, answerLimit func(http.Handler) http.Handler) {
	if answerLimit == nil {
		answerLimit = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/current", h.Current)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/privacy", h.transition((*session.Orchestrator).AcceptPrivacy))
			r.Post("/start", h.transition((*session.Orchestrator).Start))
			r.Post("/back", h.transition((*session.Orchestrator).GoBack))
			r.Delete("/error", h.transition((*session.Orchestrator).ClearError))
			r.Post("/reset", h.Reset)
			r.With(answerLimit).Post("/answer", h.Answer)
			r.Get("/watch", h.Watch)
		})
	})
}

// Create initializes a new session and remembers it in a cookie.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	o, err := h.sessions.Create(r.Context())
	if err != nil {
		h.fail(w, r, err, domain.Session{})
		return
	}
	snap := o.Snapshot()
	identity.SetSessionCookie(w, snap.SessionID, h.secureCookies)
	h.respond(w, http.StatusCreated, o, snap)
}

// List returns the ids of persisted sessions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"sessions": ids,
		"live":     h.sessions.Len(),
	})
}

// Current resumes the session the client presented, or starts a new one
// when it presented none or the one it presented is gone.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	if sid := identity.SessionIDFromContext(r.Context()); sid != "" {
		o, err := h.sessions.Get(r.Context(), sid)
		if err == nil {
			h.respond(w, http.StatusOK, o, o.Snapshot())
			return
		}
		if !errdefs.IsNotFound(err) {
			h.fail(w, r, err, domain.Session{})
			return
		}
		h.logger.Info("Presented session not found, starting a new one", "session_id", sid)
	}
	h.Create(w, r)
}

// Get returns a session snapshot, restoring it from the store if needed.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	o, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, o, o.Snapshot())
}

func (h *Handler) transition(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, ok := h.lookup(w, r)
		if !ok {
			return
		}
		s, err := op(o, r.Context())
		if err != nil {
			h.fail(w, r, err, s)
			return
		}
		h.respond(w, http.StatusOK, o, s)
	}
}

// Answer submits the visitor's answer to the current question.
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAnswerBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		Error(w, http.StatusBadRequest, "answer is required")
		return
	}
	var raw any
	if err := json.Unmarshal(req.Answer, &raw); err != nil {
		Error(w, http.StatusBadRequest, "invalid answer")
		return
	}

	o, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s, err := o.SubmitAnswer(r.Context(), raw)
	if err != nil {
		h.fail(w, r, err, s)
		return
	}
	h.respond(w, http.StatusOK, o, s)
}

// Reset discards the session and starts over under a new id.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	o, err := h.sessions.Reset(r.Context(), sid)
	if err != nil {
		h.fail(w, r, err, domain.Session{})
		return
	}
	snap := o.Snapshot()
	identity.SetSessionCookie(w, snap.SessionID, h.secureCookies)
	h.respond(w, http.StatusOK, o, snap)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid := chi.URLParam(r, "sessionID")
	if !identity.ValidSessionID(sid) {
		Error(w, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return sid, true
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Orchestrator, bool) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return nil, false
	}
	o, err := h.sessions.Get(r.Context(), sid)
	if err != nil {
		h.fail(w, r, err, domain.Session{})
		return nil, false
	}
	return o, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, o *session.Orchestrator, s domain.Session) {
	JSON(w, status, sessionResponse{
		Session:    s,
		Variant:    string(o.Variant()),
		Completion: completionOf(s),
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, s domain.Session) {
	status, withSession := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Session request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	if withSession && s.SessionID != "" {
		JSON(w, status, sessionResponse{
			Session:    s,
			Variant:    string(h.sessions.Options().Variant),
			Completion: completionOf(s),
			Error:      err.Error(),
		})
		return
	}
	Error(w, status, publicMessage(err, status))
}

func publicMessage(err error, status int) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "session not found"
	case status == http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

func completionOf(s domain.Session) *Completion {
	if !s.IsFinished {
		return nil
	}
	return &Completion{
		Company: s.Context[companyKey].String(),
		Email:   s.Context[emailKey].String(),
	}
}

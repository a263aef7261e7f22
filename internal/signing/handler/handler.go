// Package handler exposes the signing flow over HTTP: the public signer routes keyed by the
// opaque token, and the internal routes used by requesters.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"docsign-engine/backend/internal/otp"
	"docsign-engine/backend/internal/platform/httpx"
	"docsign-engine/backend/internal/signature/domain"
	"docsign-engine/backend/internal/signing/service"
)

// SessionCookie carries the viewer-session token between polls of GET /sign/{token}.
const SessionCookie = "sign_session"

// Service is the orchestrator surface used by the handlers.
type Service interface {
	GetStatus(ctx context.Context, token, sessionToken string) (*service.StatusResult, error)
	RequestOTP(ctx context.Context, token string) (*service.OTPResult, error)
	VerifyAndSign(ctx context.Context, token, code string) (*service.StatusView, error)
	Decline(ctx context.Context, token, reason string) (*service.StatusView, error)
	Create(ctx context.Context, in service.CreateInput) (*service.Created, error)
	Request(ctx context.Context, requestID string) (*domain.SignatureRequest, error)
	Cancel(ctx context.Context, requestID string) (*domain.SignatureRequest, error)
	AuditTrail(ctx context.Context, requestID string) (*service.Trail, error)
	DevOTP(ctx context.Context, token string) (string, error)
	RejectVerifyInput(ctx context.Context, token, reason string) error
}

// Options configure cookie handling.
type Options struct {
	// SecureCookies sets the Secure flag on the session cookie (production).
	SecureCookies bool
	// SessionTTL is the cookie lifetime; it should match the viewer-session token TTL.
	SessionTTL time.Duration
}

// Handler serves the signing routes.
type Handler struct {
	svc  Service
	opts Options
	log  *zap.Logger
}

// New returns a Handler over svc.
func New(svc Service, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	return &Handler{svc: svc, opts: opts, log: log}
}

// PublicRoutes mounts the signer routes.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/sign/{token}", h.getStatus)
	r.Post("/sign/{token}/request-otp", h.requestOTP)
	r.Post("/sign/{token}/verify", h.verify)
	r.Post("/sign/{token}/decline", h.decline)
}

// InternalRoutes mounts the requester routes. The caller must already be authenticated.
func (h *Handler) InternalRoutes(r chi.Router) {
	r.Post("/internal/requests", h.create)
	r.Get("/internal/requests/{id}", h.getRequest)
	r.Post("/internal/requests/{id}/cancel", h.cancel)
	r.Get("/internal/requests/{id}/audit", h.auditTrail)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	var session string
	if c, err := r.Cookie(SessionCookie); err == nil {
		session = c.Value
	}
	res, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "token"), session)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.SessionToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    res.SessionToken,
			Path:     "/sign",
			MaxAge:   int(h.opts.SessionTTL / time.Second),
			HttpOnly: true,
			Secure:   h.opts.SecureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse(res.View))
}

func (h *Handler) requestOTP(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RequestOTP(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, OTPResponse{
		MaskedEmailHint: res.MaskedEmail,
		ExpiresAt:       res.ExpiresAt,
		Delivered:       res.Delivered,
	})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var req VerifyRequest
	if failure := h.decode(w, r, &req, false); failure != "" {
		// The 400 is already written; the attempt still goes to the audit trail.
		if err := h.svc.RejectVerifyInput(r.Context(), token, failure); err != nil && !errors.Is(err, service.ErrNotFound) {
			h.log.Warn("malformed verify not audited", zap.Error(err))
		}
		return
	}
	view, err := h.svc.VerifyAndSign(r.Context(), token, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse(view))
}

func (h *Handler) decline(w http.ResponseWriter, r *http.Request) {
	var req DeclineRequest
	if h.decode(w, r, &req, true) != "" {
		return
	}
	view, err := h.svc.Decline(r.Context(), chi.URLParam(r, "token"), strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse(view))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if h.decode(w, r, &req, false) != "" {
		return
	}
	created, err := h.svc.Create(r.Context(), service.CreateInput{
		DocumentType:  req.DocumentType,
		DocumentTitle: req.DocumentTitle,
		DocumentURL:   req.DocumentURL,
		SignerName:    req.SignerName,
		SignerEmail:   req.SignerEmail,
		ExpiresAt:     req.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, CreateResponse{
		ID:          created.Request.ID,
		PublicToken: created.PublicToken,
		SigningURL:  created.SigningURL,
		Status:      string(created.Request.Status),
		ExpiresAt:   created.Request.ExpiresAt,
	})
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Request(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, requestResponse(req))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, requestResponse(req))
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := h.svc.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, auditTrailResponse(trail))
}

// decode reads and validates a JSON body. With optional set, an empty body leaves dst zero.
// On failure it writes the 400 response and returns its error code; on success it returns "".
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) string {
	if optional && r.ContentLength == 0 {
		return ""
	}
	if err := httpx.ReadJSON(w, r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return "BAD_JSON"
	}
	if err := validate.Struct(dst); err != nil {
		field, msg := validationError(err)
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", msg, map[string]string{"field": field})
		return "VALIDATION_ERROR"
	}
	return ""
}

// writeError maps orchestrator errors to responses. Unknown tokens always produce the same body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		te *service.TransitionError
		rl *otp.RateLimitError
		ve *service.ValidationError
	)
	switch {
	case errors.Is(err, service.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.As(err, &te):
		httpx.WriteError(w, http.StatusConflict, "INVALID_TRANSITION",
			"signature request is no longer actionable", map[string]string{"status": string(te.Status)})
	case errors.As(err, &rl):
		if rl.RetryAfter > 0 {
			httpx.SetRetryAfter(w, rl.RetryAfter)
		}
		httpx.WriteError(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "too many code requests", nil)
	case errors.Is(err, service.ErrInvalidCode):
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_CODE", "invalid or expired code", nil)
	case errors.Is(err, service.ErrIntegrityViolation):
		httpx.WriteError(w, http.StatusConflict, "INTEGRITY_VIOLATION",
			"the document changed after the request was sent; contact the sender", nil)
	case errors.As(err, &ve):
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error(), map[string]string{"field": ve.Field})
	case errors.Is(err, service.ErrUnauthenticated):
		httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
	case errors.Is(err, service.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "FORBIDDEN", "not allowed", nil)
	default:
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		h.log.Error("signing request failed",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Error(err),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pipay/internal/platform/middleware"
	sessionModels "pipay/internal/session/models"
	dErrors "pipay/pkg/domain-errors"
	"pipay/pkg/platform/httputil"
)

// Service defines the session operations the handler needs.
type Service interface {
	Login(ctx context.Context, token string) (*sessionModels.Session, error)
}

// Handler serves the login endpoint.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register registers the session routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/auth/login", h.HandleLogin)
}

type loginRequest struct {
	IDToken string `json:"idToken"`
}

func (r *loginRequest) Validate() error {
	if r.IDToken == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return nil
}

type loginResponse struct {
	SessionID string `json:"sessionId"`
}

// HandleLogin exchanges an ID token for a session id.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[loginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.service.Login(ctx, req.IDToken)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "login failed",
				"request_id", requestID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, loginResponse{SessionID: session.SessionID})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	paymentModels "pipay/internal/payment/models"
	"pipay/internal/platform/middleware"
	dErrors "pipay/pkg/domain-errors"
	"pipay/pkg/platform/httputil"
)

// Service defines the payment operations exposed over HTTP.
type Service interface {
	Create(ctx context.Context, sessionID string, amount float64, idempotencyKey string) (*paymentModels.Receipt, error)
	Confirm(ctx context.Context, sessionID, paymentID, idempotencyKey string) (*paymentModels.Receipt, error)
	ListMine(ctx context.Context, sessionID string) ([]*paymentModels.Receipt, error)
	Protected(ctx context.Context, sessionID string) (*paymentModels.ProtectedContent, error)
}

// Handler serves the session-authenticated payment endpoints. The session id
// travels in the JSON body.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register registers the payment routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/payments/create", h.HandleCreate)
	r.Post("/api/payments/confirm", h.HandleConfirm)
	r.Post("/api/me/receipts", h.HandleListMine)
	r.Post("/api/protected", h.HandleProtected)
}

type createRequest struct {
	SessionID      string  `json:"sessionId"`
	Amount         float64 `json:"amount"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

type confirmRequest struct {
	SessionID      string `json:"sessionId"`
	PaymentID      string `json:"paymentId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

func requireSession(sessionID string) error {
	if sessionID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid session")
	}
	return nil
}

func (r *createRequest) Validate() error  { return requireSession(r.SessionID) }
func (r *confirmRequest) Validate() error { return requireSession(r.SessionID) }
func (r *sessionRequest) Validate() error { return requireSession(r.SessionID) }

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	receipt, err := h.service.Create(ctx, req.SessionID, req.Amount, req.IdempotencyKey)
	if err != nil {
		h.writeError(ctx, w, requestID, "create payment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[confirmRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	receipt, err := h.service.Confirm(ctx, req.SessionID, req.PaymentID, req.IdempotencyKey)
	if err != nil {
		h.writeError(ctx, w, requestID, "confirm payment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[sessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	receipts, err := h.service.ListMine(ctx, req.SessionID)
	if err != nil {
		h.writeError(ctx, w, requestID, "list receipts", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipts)
}

func (h *Handler) HandleProtected(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[sessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	content, err := h.service.Protected(ctx, req.SessionID)
	if err != nil {
		h.writeError(ctx, w, requestID, "protected content", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, content)
}

// writeError logs unexpected failures before rendering; expected outcomes
// (401, 402, 404, ...) are rendered quietly.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, requestID, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestID,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

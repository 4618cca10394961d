package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pipay/internal/events"
	"pipay/internal/platform/middleware"
	dErrors "pipay/pkg/domain-errors"
	"pipay/pkg/platform/httputil"
)

const maxBodyBytes = 1 << 20

// Emitter publishes accepted webhooks.
type Emitter interface {
	Emit(ctx context.Context, event events.Event)
}

// Handler serves POST /api/webhooks/pi.
type Handler struct {
	auth    *Authenticator
	emitter Emitter
	logger  *slog.Logger
}

func New(auth *Authenticator, emitter Emitter, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, emitter: emitter, logger: logger}
}

// Register registers the webhook route with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/webhooks/pi", h.HandleWebhook)
}

type webhookPayload struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

// HandleWebhook authenticates the raw body before parsing it.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if !h.auth.Verify(body, r.Header.Get(SignatureHeader)) {
		h.logger.WarnContext(ctx, "webhook signature rejected", "request_id", requestID)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid signature"))
		return
	}

	if !json.Valid(body) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON"))
		return
	}

	// the body is any JSON value; known fields are lifted when it is an object
	var payload webhookPayload
	_ = json.Unmarshal(body, &payload)

	h.emitter.Emit(ctx, events.Event{
		Type:      events.TypeWebhookReceived,
		PaymentID: payload.PaymentID,
		Status:    payload.Status,
		Payload:   json.RawMessage(body),
	})
	h.logger.InfoContext(ctx, "webhook accepted",
		"request_id", requestID,
		"payment_id", payload.PaymentID,
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

package admin

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	paymentModels "pipay/internal/payment/models"
	"pipay/internal/platform/middleware"
	sessionModels "pipay/internal/session/models"
	"pipay/internal/storage"
	"pipay/pkg/platform/httputil"
	adminmw "pipay/pkg/platform/middleware/admin"
)

// Lister is the admin read surface.
type Lister interface {
	ListSessions(ctx context.Context, filter storage.ListFilter) ([]*sessionModels.Session, error)
	ListReceipts(ctx context.Context, filter storage.ListFilter) ([]*paymentModels.Receipt, error)
}

// Handler serves /admin/*.
type Handler struct {
	lister Lister
	creds  adminmw.Credentials
	logger *slog.Logger
}

func NewHandler(lister Lister, creds adminmw.Credentials, logger *slog.Logger) *Handler {
	return &Handler{lister: lister, creds: creds, logger: logger}
}

// Register mounts the admin routes behind Basic auth.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(adminmw.RequireBasicAuth(h.creds, h.logger))
		r.Get("/sessions", h.handleSessions)
		r.Get("/receipts", h.handleReceipts)
		r.Get("/sessions.csv", h.handleSessionsCSV)
		r.Get("/receipts.csv", h.handleReceiptsCSV)
	})
}

func (h *Handler) filter(w http.ResponseWriter, r *http.Request) (storage.ListFilter, bool) {
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return storage.ListFilter{}, false
	}
	return filter, true
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) ([]*sessionModels.Session, bool) {
	filter, ok := h.filter(w, r)
	if !ok {
		return nil, false
	}
	sessions, err := h.lister.ListSessions(r.Context(), filter)
	if err != nil {
		h.fail(r.Context(), w, "list sessions", err)
		return nil, false
	}
	return sessions, true
}

func (h *Handler) receipts(w http.ResponseWriter, r *http.Request) ([]*paymentModels.Receipt, bool) {
	filter, ok := h.filter(w, r)
	if !ok {
		return nil, false
	}
	receipts, err := h.lister.ListReceipts(r.Context(), filter)
	if err != nil {
		h.fail(r.Context(), w, "list receipts", err)
		return nil, false
	}
	return receipts, true
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if sessions, ok := h.sessions(w, r); ok {
		httputil.WriteJSON(w, http.StatusOK, sessions)
	}
}

func (h *Handler) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if receipts, ok := h.receipts(w, r); ok {
		httputil.WriteJSON(w, http.StatusOK, receipts)
	}
}

func (h *Handler) handleSessionsCSV(w http.ResponseWriter, r *http.Request) {
	sessions, ok := h.sessions(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := WriteSessionsCSV(&buf, sessions); err != nil {
		h.fail(r.Context(), w, "render sessions csv", err)
		return
	}
	writeCSV(w, "sessions.csv", buf.Bytes())
}

func (h *Handler) handleReceiptsCSV(w http.ResponseWriter, r *http.Request) {
	receipts, ok := h.receipts(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := WriteReceiptsCSV(&buf, receipts); err != nil {
		h.fail(r.Context(), w, "render receipts csv", err)
		return
	}
	writeCSV(w, "receipts.csv", buf.Bytes())
}

func writeCSV(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.ErrorContext(ctx, op+" failed",
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

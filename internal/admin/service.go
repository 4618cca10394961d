// Package admin serves read-only inspection of sessions and receipts as JSON
// or CSV behind HTTP Basic auth.
package admin

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentModels "pipay/internal/payment/models"
	sessionModels "pipay/internal/session/models"
	"pipay/internal/storage"
	dErrors "pipay/pkg/domain-errors"
)

type Store interface {
	ListSessions(ctx context.Context, filter storage.ListFilter) ([]*sessionModels.Session, error)
	ListReceipts(ctx context.Context, filter storage.ListFilter) ([]*paymentModels.Receipt, error)
}

// Service wraps the store listings with error translation.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) ListSessions(ctx context.Context, filter storage.ListFilter) ([]*sessionModels.Session, error) {
	sessions, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}
	if sessions == nil {
		sessions = []*sessionModels.Session{}
	}
	return sessions, nil
}

func (s *Service) ListReceipts(ctx context.Context, filter storage.ListFilter) ([]*paymentModels.Receipt, error) {
	receipts, err := s.store.ListReceipts(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list receipts")
	}
	if receipts == nil {
		receipts = []*paymentModels.Receipt{}
	}
	return receipts, nil
}

const dateOnly = "2006-01-02"

// ParseFilter reads q, status, start, end and limit. Bad dates, statuses and
// limits are validation errors; limit is normalized like every listing.
func ParseFilter(q url.Values) (storage.ListFilter, error) {
	filter := storage.ListFilter{Query: strings.TrimSpace(q.Get("q"))}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := paymentModels.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			return storage.ListFilter{}, dErrors.New(dErrors.CodeValidation, "status must be CREATED, APPROVED or REJECTED")
		}
		filter.Status = status
	}

	var err error
	if filter.Start, err = parseBound(q.Get("start")); err != nil {
		return storage.ListFilter{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid start: %v", err))
	}
	if filter.End, err = parseBound(q.Get("end")); err != nil {
		return storage.ListFilter{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid end: %v", err))
	}

	// Anything that is not an integer falls back to the default page size.
	n, _ := strconv.Atoi(strings.TrimSpace(q.Get("limit")))
	filter.Limit = storage.NormalizeLimit(n)
	return filter, nil
}

// parseBound accepts RFC 3339 timestamps or plain dates (midnight UTC).
func parseBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, nil
}

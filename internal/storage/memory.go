package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	paymentModels "pipay/internal/payment/models"
	sessionModels "pipay/internal/session/models"
	"pipay/pkg/domain"
)

// BackendMemory names the in-process backend.
const BackendMemory = "memory"

// InMemory keeps sessions and receipts in process memory. It is the last
// fallback tier and the default in tests. Data is lost on restart.
type InMemory struct {
	sessionsMu sync.RWMutex
	sessions   map[string]sessionModels.Session

	// receiptsMu is the check-then-insert critical section for receipts.
	receiptsMu sync.RWMutex
	receipts   map[string]paymentModels.Receipt
}

// NewInMemory creates an empty in-memory adapter.
func NewInMemory() *InMemory {
	return &InMemory{
		sessions: make(map[string]sessionModels.Session),
		receipts: make(map[string]paymentModels.Receipt),
	}
}

func (s *InMemory) Backend() string              { return BackendMemory }
func (s *InMemory) Ping(_ context.Context) error { return nil }
func (s *InMemory) Close() error                 { return nil }

func (s *InMemory) CreateSession(_ context.Context, session *sessionModels.Session) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if _, exists := s.sessions[session.SessionID]; exists {
		return nil
	}
	stored := *session
	stored.CreatedAt = domain.Timestamp(stored.CreatedAt)
	s.sessions[session.SessionID] = stored
	return nil
}

func (s *InMemory) GetSession(_ context.Context, sessionID string) (*sessionModels.Session, error) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	if session, ok := s.sessions[sessionID]; ok {
		return &session, nil
	}
	return nil, ErrNotFound
}

func (s *InMemory) ListSessions(_ context.Context, filter ListFilter) ([]*sessionModels.Session, error) {
	s.sessionsMu.RLock()
	matched := make([]sessionModels.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if !containsFold(filter.Query, session.SessionID, session.UserID) {
			continue
		}
		if !inRange(session.CreatedAt, filter) {
			continue
		}
		matched = append(matched, session)
	}
	s.sessionsMu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].SessionID > matched[j].SessionID
	})

	limit := NormalizeLimit(filter.Limit)
	out := make([]*sessionModels.Session, 0, min(limit, len(matched)))
	for i := 0; i < len(matched) && i < limit; i++ {
		out = append(out, &matched[i])
	}
	return out, nil
}

func (s *InMemory) CreateReceiptIfAbsent(_ context.Context, receipt *paymentModels.Receipt) (*paymentModels.Receipt, bool, error) {
	s.receiptsMu.Lock()
	defer s.receiptsMu.Unlock()

	if existing, ok := s.receipts[receipt.IdempotencyKey]; ok {
		return &existing, false, nil
	}

	stored := *receipt
	stored.CreatedAt = domain.Timestamp(stored.CreatedAt)
	stored.UpdatedAt = domain.Timestamp(stored.UpdatedAt)
	s.receipts[receipt.IdempotencyKey] = stored
	return &stored, true, nil
}

func (s *InMemory) GetReceipt(_ context.Context, idempotencyKey string) (*paymentModels.Receipt, error) {
	s.receiptsMu.RLock()
	defer s.receiptsMu.RUnlock()
	if existing, ok := s.receipts[idempotencyKey]; ok {
		return &existing, nil
	}
	return nil, ErrNotFound
}

func (s *InMemory) UpdateReceiptStatus(_ context.Context, idempotencyKey string, status paymentModels.Status, at time.Time) (*paymentModels.Receipt, error) {
	s.receiptsMu.Lock()
	defer s.receiptsMu.Unlock()
	existing, ok := s.receipts[idempotencyKey]
	if !ok {
		return nil, ErrNotFound
	}
	existing.Status = status
	existing.UpdatedAt = domain.Timestamp(at)
	s.receipts[idempotencyKey] = existing
	return &existing, nil
}

func (s *InMemory) ListReceiptsByUser(_ context.Context, userID string, limit int) ([]*paymentModels.Receipt, error) {
	return s.listReceipts(func(r *paymentModels.Receipt) bool {
		return r.UserID == userID
	}, limit), nil
}

func (s *InMemory) HasApprovedReceipt(_ context.Context, userID string) (bool, error) {
	s.receiptsMu.RLock()
	defer s.receiptsMu.RUnlock()
	for _, existing := range s.receipts {
		if existing.UserID == userID && existing.Status == paymentModels.StatusApproved {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemory) ListReceipts(_ context.Context, filter ListFilter) ([]*paymentModels.Receipt, error) {
	return s.listReceipts(func(r *paymentModels.Receipt) bool {
		if !containsFold(filter.Query, r.IdempotencyKey, r.PaymentID, r.UserID) {
			return false
		}
		if filter.Status != "" && r.Status != filter.Status {
			return false
		}
		return inRange(r.CreatedAt, filter)
	}, filter.Limit), nil
}

func (s *InMemory) listReceipts(keep func(*paymentModels.Receipt) bool, limit int) []*paymentModels.Receipt {
	s.receiptsMu.RLock()
	matched := make([]paymentModels.Receipt, 0)
	for _, existing := range s.receipts {
		if keep(&existing) {
			matched = append(matched, existing)
		}
	}
	s.receiptsMu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.IdempotencyKey > b.IdempotencyKey
	})

	limit = NormalizeLimit(limit)
	out := make([]*paymentModels.Receipt, 0, min(limit, len(matched)))
	for i := 0; i < len(matched) && i < limit; i++ {
		out = append(out, &matched[i])
	}
	return out
}

func containsFold(query string, fields ...string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func inRange(t time.Time, filter ListFilter) bool {
	if !filter.Start.IsZero() && t.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && !t.Before(filter.End) {
		return false
	}
	return true
}

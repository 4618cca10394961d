package storage

import (
	"context"
	"time"

	paymentModels "pipay/internal/payment/models"
	sessionModels "pipay/internal/session/models"
)

// Listing bounds shared by every backend.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// SessionStore persists sessions. CreateSession is insert-or-ignore.
type SessionStore interface {
	CreateSession(ctx context.Context, session *sessionModels.Session) error
	GetSession(ctx context.Context, sessionID string) (*sessionModels.Session, error)
	ListSessions(ctx context.Context, filter ListFilter) ([]*sessionModels.Session, error)
}

// ReceiptStore persists receipts keyed by idempotency key.
type ReceiptStore interface {
	// CreateReceiptIfAbsent inserts receipt unless its key exists. It returns
	// the stored row and whether this call inserted it. Atomic per key.
	CreateReceiptIfAbsent(ctx context.Context, receipt *paymentModels.Receipt) (*paymentModels.Receipt, bool, error)
	GetReceipt(ctx context.Context, idempotencyKey string) (*paymentModels.Receipt, error)
	// UpdateReceiptStatus writes status and updatedAt. A missing key writes
	// nothing and returns sentinel.ErrNotFound.
	UpdateReceiptStatus(ctx context.Context, idempotencyKey string, status paymentModels.Status, at time.Time) (*paymentModels.Receipt, error)
	ListReceiptsByUser(ctx context.Context, userID string, limit int) ([]*paymentModels.Receipt, error)
	HasApprovedReceipt(ctx context.Context, userID string) (bool, error)
	ListReceipts(ctx context.Context, filter ListFilter) ([]*paymentModels.Receipt, error)
}

// Adapter is the single persistence capability handed to services. Callers
// never branch on the backend behind it.
type Adapter interface {
	SessionStore
	ReceiptStore
	Backend() string
	Ping(ctx context.Context) error
	Close() error
}

// ListFilter narrows admin listings. Zero values mean "no constraint".
type ListFilter struct {
	// Query is a case-insensitive substring matched against id fields.
	Query  string
	Status paymentModels.Status
	// Start is inclusive, End exclusive; both bound created_at.
	Start time.Time
	End   time.Time
	Limit int
}

// NormalizeLimit applies the default and the hard cap.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

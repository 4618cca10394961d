package admin

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paymentModels "pipay/internal/payment/models"
	sessionModels "pipay/internal/session/models"
	"pipay/internal/storage"
	dErrors "pipay/pkg/domain-errors"
)

func TestParseFilter(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		f, err := ParseFilter(url.Values{})
		require.NoError(t, err)
		assert.Equal(t, storage.DefaultListLimit, f.Limit)
		assert.True(t, f.Start.IsZero())
		assert.Empty(t, f.Status)
	})

	t.Run("all fields", func(t *testing.T) {
		f, err := ParseFilter(url.Values{
			"q":      {" pay_1 "},
			"status": {"approved"},
			"start":  {"2024-03-01"},
			"end":    {"2024-03-02T12:30:00Z"},
			"limit":  {"10"},
		})
		require.NoError(t, err)
		assert.Equal(t, "pay_1", f.Query)
		assert.Equal(t, paymentModels.StatusApproved, f.Status)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), f.Start)
		assert.Equal(t, time.Date(2024, 3, 2, 12, 30, 0, 0, time.UTC), f.End)
		assert.Equal(t, 10, f.Limit)
	})

	t.Run("limit is clamped", func(t *testing.T) {
		f, err := ParseFilter(url.Values{"limit": {"100000"}})
		require.NoError(t, err)
		assert.Equal(t, storage.MaxListLimit, f.Limit)

		f, err = ParseFilter(url.Values{"limit": {"-3"}})
		require.NoError(t, err)
		assert.Equal(t, storage.DefaultListLimit, f.Limit)
	})

	t.Run("non-integer limit uses the default", func(t *testing.T) {
		for _, raw := range []string{"ten", "2.5", "1e3"} {
			f, err := ParseFilter(url.Values{"limit": {raw}})
			require.NoError(t, err, raw)
			assert.Equal(t, storage.DefaultListLimit, f.Limit, raw)
		}
	})

	for name, q := range map[string]url.Values{
		"bad status": {"status": {"PENDING"}},
		"bad start":  {"start": {"yesterday"}},
		"bad end":    {"end": {"2024-13-45"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFilter(q)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

type stubStore struct {
	sessions []*sessionModels.Session
	receipts []*paymentModels.Receipt
	err      error
}

func (s stubStore) ListSessions(context.Context, storage.ListFilter) ([]*sessionModels.Session, error) {
	return s.sessions, s.err
}

func (s stubStore) ListReceipts(context.Context, storage.ListFilter) ([]*paymentModels.Receipt, error) {
	return s.receipts, s.err
}

func TestServiceListings(t *testing.T) {
	ctx := context.Background()

	t.Run("nil results become empty slices", func(t *testing.T) {
		svc := NewService(stubStore{})
		sessions, err := svc.ListSessions(ctx, storage.ListFilter{})
		require.NoError(t, err)
		assert.NotNil(t, sessions)
		receipts, err := svc.ListReceipts(ctx, storage.ListFilter{})
		require.NoError(t, err)
		assert.NotNil(t, receipts)
	})

	t.Run("store failures are internal", func(t *testing.T) {
		svc := NewService(stubStore{err: errors.New("disk gone")})
		_, err := svc.ListSessions(ctx, storage.ListFilter{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
		_, err = svc.ListReceipts(ctx, storage.ListFilter{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})

	t.Run("works over the in-memory store", func(t *testing.T) {
		mem := storage.NewInMemory()
		require.NoError(t, mem.CreateSession(ctx, &sessionModels.Session{SessionID: "s1", UserID: "u1", CreatedAt: time.Now()}))
		sessions, err := NewService(mem).ListSessions(ctx, storage.ListFilter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "u1", sessions[0].UserID)
	})
}

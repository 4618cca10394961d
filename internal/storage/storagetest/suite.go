// Package storagetest holds the behavior suite every storage.Adapter backend
// must pass, so memory, SQLite and Postgres stay interchangeable.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	paymentModels "pipay/internal/payment/models"
	sessionModels "pipay/internal/session/models"
	"pipay/internal/storage"
)

// AdapterSuite runs against the adapter returned by NewAdapter, which must be
// empty for every test.
type AdapterSuite struct {
	suite.Suite
	NewAdapter func() storage.Adapter

	ctx   context.Context
	store storage.Adapter
	base  time.Time
}

func (s *AdapterSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewAdapter()
	s.base = time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
}

func (s *AdapterSuite) TearDownTest() {
	if s.store != nil {
		s.Require().NoError(s.store.Close())
	}
}

func (s *AdapterSuite) receipt(key, userID string, amount float64, at time.Time) *paymentModels.Receipt {
	return &paymentModels.Receipt{
		IdempotencyKey: key,
		PaymentID:      "pay_" + key,
		Amount:         amount,
		UserID:         userID,
		Status:         paymentModels.StatusCreated,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func (s *AdapterSuite) TestSessionInsertOrIgnore() {
	first := &sessionModels.Session{SessionID: "sess_a", UserID: "user-1", CreatedAt: s.base}
	s.Require().NoError(s.store.CreateSession(s.ctx, first))

	dup := &sessionModels.Session{SessionID: "sess_a", UserID: "user-2", CreatedAt: s.base.Add(time.Hour)}
	s.Require().NoError(s.store.CreateSession(s.ctx, dup), "duplicate id is not an error")

	got, err := s.store.GetSession(s.ctx, "sess_a")
	s.Require().NoError(err)
	s.Equal("user-1", got.UserID)
	s.True(got.CreatedAt.Equal(s.base.Truncate(time.Microsecond)))
}

func (s *AdapterSuite) TestGetSessionNotFound() {
	_, err := s.store.GetSession(s.ctx, "sess_missing")
	s.Require().ErrorIs(err, storage.ErrNotFound)
}

func (s *AdapterSuite) TestCreateReceiptIfAbsentIsIdempotent() {
	created, inserted, err := s.store.CreateReceiptIfAbsent(s.ctx, s.receipt("k1", "user-1", 5, s.base))
	s.Require().NoError(err)
	s.True(inserted)
	s.Equal(paymentModels.StatusCreated, created.Status)

	replay := s.receipt("k1", "user-2", 99, s.base.Add(time.Minute))
	replay.PaymentID = "pay_other"
	again, inserted, err := s.store.CreateReceiptIfAbsent(s.ctx, replay)
	s.Require().NoError(err)
	s.False(inserted)

	a, err := json.Marshal(created)
	s.Require().NoError(err)
	b, err := json.Marshal(again)
	s.Require().NoError(err)
	s.JSONEq(string(a), string(b), "replay returns the stored row unchanged")

	all, err := s.store.ListReceipts(s.ctx, storage.ListFilter{})
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *AdapterSuite) TestConcurrentCreateYieldsOneRow() {
	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		payments = map[string]struct{}{}
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := s.receipt("race", "user-1", float64(i), s.base)
			r.PaymentID = fmt.Sprintf("pay_%d", i)
			got, ins, err := s.store.CreateReceiptIfAbsent(s.ctx, r)
			s.NoError(err)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ins {
				inserted++
			}
			payments[got.PaymentID] = struct{}{}
		}()
	}
	wg.Wait()

	s.Equal(1, inserted)
	s.Len(payments, 1, "every caller observes the same receipt")
}

func (s *AdapterSuite) TestUpdateReceiptStatus() {
	_, _, err := s.store.CreateReceiptIfAbsent(s.ctx, s.receipt("k1", "user-1", 5, s.base))
	s.Require().NoError(err)

	later := s.base.Add(90 * time.Second)
	updated, err := s.store.UpdateReceiptStatus(s.ctx, "k1", paymentModels.StatusApproved, later)
	s.Require().NoError(err)
	s.Equal(paymentModels.StatusApproved, updated.Status)
	s.True(updated.UpdatedAt.Equal(later.Truncate(time.Microsecond)))
	s.True(updated.CreatedAt.Equal(s.base.Truncate(time.Microsecond)), "createdAt is untouched")
	s.Equal("pay_k1", updated.PaymentID)

	stored, err := s.store.GetReceipt(s.ctx, "k1")
	s.Require().NoError(err)
	s.Equal(paymentModels.StatusApproved, stored.Status)
}

func (s *AdapterSuite) TestUpdateMissingReceiptWritesNothing() {
	_, err := s.store.UpdateReceiptStatus(s.ctx, "ghost", paymentModels.StatusApproved, s.base)
	s.Require().ErrorIs(err, storage.ErrNotFound)

	_, err = s.store.GetReceipt(s.ctx, "ghost")
	s.Require().ErrorIs(err, storage.ErrNotFound)
}

func (s *AdapterSuite) TestListReceiptsByUserIsScopedAndOrdered() {
	for i, key := range []string{"a", "b", "c"} {
		_, _, err := s.store.CreateReceiptIfAbsent(s.ctx, s.receipt(key, "user-1", 1, s.base.Add(time.Duration(i)*time.Second)))
		s.Require().NoError(err)
	}
	_, _, err := s.store.CreateReceiptIfAbsent(s.ctx, s.receipt("other", "user-2", 1, s.base.Add(time.Hour)))
	s.Require().NoError(err)

	mine, err := s.store.ListReceiptsByUser(s.ctx, "user-1", 0)
	s.Require().NoError(err)
	s.Require().Len(mine, 3)
	s.Equal([]string{"c", "b", "a"}, keys(mine))

	limited, err := s.store.ListReceiptsByUser(s.ctx, "user-1", 2)
	s.Require().NoError(err)
	s.Equal([]string{"c", "b"}, keys(limited))
}

func (s *AdapterSuite) TestHasApprovedReceipt() {
	_, _, err := s.store.CreateReceiptIfAbsent(s.ctx, s.receipt("k1", "user-1", 1, s.base))
	s.Require().NoError(err)

	ok, err := s.store.HasApprovedReceipt(s.ctx, "user-1")
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.store.UpdateReceiptStatus(s.ctx, "k1", paymentModels.StatusApproved, s.base)
	s.Require().NoError(err)

	ok, err = s.store.HasApprovedReceipt(s.ctx, "user-1")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.HasApprovedReceipt(s.ctx, "user-2")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *AdapterSuite) TestListReceiptsFilters() {
	fixtures := []struct {
		key    string
		user   string
		status paymentModels.Status
		offset time.Duration
	}{
		{"order-100", "alice", paymentModels.StatusApproved, 0},
		{"order-101", "bob", paymentModels.StatusRejected, time.Hour},
		{"refill_50%", "Alice", paymentModels.StatusCreated, 2 * time.Hour},
	}
	for _, f := range fixtures {
		_, _, err := s.store.CreateReceiptIfAbsent(s.ctx, s.receipt(f.key, f.user, 1, s.base.Add(f.offset)))
		s.Require().NoError(err)
		if f.status != paymentModels.StatusCreated {
			_, err = s.store.UpdateReceiptStatus(s.ctx, f.key, f.status, s.base.Add(f.offset))
			s.Require().NoError(err)
		}
	}

	s.Run("query is case-insensitive across id fields", func() {
		got, err := s.store.ListReceipts(s.ctx, storage.ListFilter{Query: "ALICE"})
		s.Require().NoError(err)
		s.Equal([]string{"refill_50%", "order-100"}, keys(got))
	})

	s.Run("wildcards in query are literal", func() {
		got, err := s.store.ListReceipts(s.ctx, storage.ListFilter{Query: "50%"})
		s.Require().NoError(err)
		s.Equal([]string{"refill_50%"}, keys(got))

		got, err = s.store.ListReceipts(s.ctx, storage.ListFilter{Query: "order_"})
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("status is exact", func() {
		got, err := s.store.ListReceipts(s.ctx, storage.ListFilter{Status: paymentModels.StatusRejected})
		s.Require().NoError(err)
		s.Equal([]string{"order-101"}, keys(got))
	})

	s.Run("time range is start-inclusive end-exclusive", func() {
		got, err := s.store.ListReceipts(s.ctx, storage.ListFilter{
			Start: s.base.Add(time.Hour).Truncate(time.Microsecond),
			End:   s.base.Add(2 * time.Hour).Truncate(time.Microsecond),
		})
		s.Require().NoError(err)
		s.Equal([]string{"order-101"}, keys(got))
	})

	s.Run("limit", func() {
		got, err := s.store.ListReceipts(s.ctx, storage.ListFilter{Limit: 1})
		s.Require().NoError(err)
		s.Equal([]string{"refill_50%"}, keys(got))
	})
}

func (s *AdapterSuite) TestListSessionsFilters() {
	for i, id := range []string{"sess_aa", "sess_bb", "sess_cc"} {
		s.Require().NoError(s.store.CreateSession(s.ctx, &sessionModels.Session{
			SessionID: id,
			UserID:    fmt.Sprintf("user-%d", i),
			CreatedAt: s.base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.store.ListSessions(s.ctx, storage.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal("sess_cc", all[0].SessionID)

	byUser, err := s.store.ListSessions(s.ctx, storage.ListFilter{Query: "USER-1"})
	s.Require().NoError(err)
	s.Require().Len(byUser, 1)
	s.Equal("sess_bb", byUser[0].SessionID)
}

func (s *AdapterSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
	s.NotEmpty(s.store.Backend())
}

func keys(receipts []*paymentModels.Receipt) []string {
	out := make([]string, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, r.IdempotencyKey)
	}
	return out
}

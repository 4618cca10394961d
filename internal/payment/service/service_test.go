package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"pipay/internal/events"
	"pipay/internal/identity"
	paymentModels "pipay/internal/payment/models"
	"pipay/internal/payment/verifier"
	"pipay/internal/platform/config"
	"pipay/internal/platform/metrics"
	sessionService "pipay/internal/session/service"
	"pipay/internal/storage"
	dErrors "pipay/pkg/domain-errors"
)

// scriptedVerifier answers with a fixed decision and counts calls.
type scriptedVerifier struct {
	mu       sync.Mutex
	approved bool
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (v *scriptedVerifier) set(approved bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.approved, v.err = approved, err
}

func (v *scriptedVerifier) Verify(context.Context, string) (verifier.Decision, error) {
	v.calls.Add(1)
	time.Sleep(v.delay)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return verifier.Decision{}, v.err
	}
	status := "PENDING"
	if v.approved {
		status = verifier.StatusApproved
	}
	return verifier.Decision{Approved: v.approved, Status: status, Source: verifier.SourceRemote}, nil
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *storage.InMemory
	sessions *sessionService.Service
	verifier *scriptedVerifier
	recorder *events.Recorder
	metrics  *metrics.Metrics
	service  *Service
	logger   *slog.Logger
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = storage.NewInMemory()
	s.sessions = sessionService.New(s.store, identity.New(config.Verification{}, identity.WithLogger(s.logger)),
		sessionService.WithLogger(s.logger))
	s.verifier = &scriptedVerifier{approved: true}
	s.recorder = &events.Recorder{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithLogger(s.logger),
		WithMetrics(s.metrics),
		WithEmitter(events.NewEmitter(s.recorder)),
	}
	return New(s.store, s.sessions, s.verifier, append(base, opts...)...)
}

func (s *ServiceSuite) login(token string) string {
	session, err := s.sessions.Login(s.ctx, token)
	s.Require().NoError(err)
	return session.SessionID
}

func (s *ServiceSuite) requireCode(err error, code dErrors.Code, msg string) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), "error: %v", err)
	if msg != "" {
		s.Equal(msg, dErrors.MessageOf(err))
	}
}

func (s *ServiceSuite) TestExampleScenario() {
	sid := s.login("tok-1")
	userID, err := s.sessions.Resolve(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal(identity.PseudonymousID("tok-1"), userID)

	created, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)
	s.Equal(paymentModels.StatusCreated, created.Status)
	s.Equal(5.0, created.Amount)

	approved, err := s.service.Confirm(s.ctx, sid, created.PaymentID, "k1")
	s.Require().NoError(err)
	s.Equal(paymentModels.StatusApproved, approved.Status)

	replay, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)
	s.Equal(approved, replay)

	s.Equal([]events.Type{events.TypeReceiptCreated, events.TypeReceiptApproved}, s.recorder.Types())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ReceiptTransitions.WithLabelValues("APPROVED")))
}

func (s *ServiceSuite) TestIdempotentCreateIsByteIdentical() {
	sid := s.login("tok-1")

	first, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)
	second, err := s.service.Create(s.ctx, sid, 999, "k1")
	s.Require().NoError(err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	s.Equal(string(a), string(b))

	mine, err := s.service.ListMine(s.ctx, sid)
	s.Require().NoError(err)
	s.Len(mine, 1)
	s.Equal([]events.Type{events.TypeReceiptCreated}, s.recorder.Types(), "replay emits nothing")
}

func (s *ServiceSuite) TestConcurrentCreatesShareOneReceipt() {
	sid := s.login("tok-1")
	const n = 16
	results := make([]*paymentModels.Receipt, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.service.Create(s.ctx, sid, float64(i), "k-race")
			s.NoError(err)
			results[i] = r
		}()
	}
	wg.Wait()
	for _, r := range results[1:] {
		s.Equal(results[0].PaymentID, r.PaymentID)
	}
}

func (s *ServiceSuite) TestCreateValidation() {
	sid := s.login("tok-1")

	_, err := s.service.Create(s.ctx, sid, 5, "")
	s.requireCode(err, dErrors.CodeValidation, "idempotencyKey is required")

	_, err = s.service.Create(s.ctx, sid, -1, "k1")
	s.requireCode(err, dErrors.CodeValidation, "amount must not be negative")

	_, err = s.service.Create(s.ctx, sid, 0, "k-zero")
	s.NoError(err, "zero is a valid amount")
}

func (s *ServiceSuite) TestCreateReturnsExistingReceiptForAnyCaller() {
	alice := s.login("alice")
	bob := s.login("bob")

	first, err := s.service.Create(s.ctx, alice, 5, "shared")
	s.Require().NoError(err)
	second, err := s.service.Create(s.ctx, bob, 9, "shared")
	s.Require().NoError(err)
	s.Equal(first, second)
	s.Equal(identity.PseudonymousID("alice"), second.UserID)
}

func (s *ServiceSuite) TestKeysAreNotTrimmed() {
	sid := s.login("tok-1")

	spaced, err := s.service.Create(s.ctx, sid, 5, " ")
	s.Require().NoError(err)
	s.Equal(" ", spaced.IdempotencyKey)

	padded, err := s.service.Create(s.ctx, sid, 5, " k1 ")
	s.Require().NoError(err)
	plain, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)
	s.NotEqual(padded.PaymentID, plain.PaymentID, "keys compare byte for byte")
}

func (s *ServiceSuite) TestSessionGatingHasNoSideEffects() {
	const bogus = "sess_ffffffffffffffffffffffffffffffff"

	_, err := s.service.Create(s.ctx, bogus, 5, "k1")
	s.requireCode(err, dErrors.CodeUnauthorized, "invalid session")
	_, err = s.service.Confirm(s.ctx, bogus, "pay_x", "k1")
	s.requireCode(err, dErrors.CodeUnauthorized, "invalid session")
	_, err = s.service.ListMine(s.ctx, bogus)
	s.requireCode(err, dErrors.CodeUnauthorized, "invalid session")
	_, err = s.service.HasApproved(s.ctx, bogus)
	s.requireCode(err, dErrors.CodeUnauthorized, "invalid session")
	_, err = s.service.Protected(s.ctx, bogus)
	s.requireCode(err, dErrors.CodeUnauthorized, "invalid session")

	all, err := s.store.ListReceipts(s.ctx, storage.ListFilter{})
	s.Require().NoError(err)
	s.Empty(all)
	s.Zero(s.verifier.calls.Load())
	s.Empty(s.recorder.Events())
}

func (s *ServiceSuite) TestConfirmValidation() {
	sid := s.login("tok-1")
	_, err := s.service.Confirm(s.ctx, sid, "pay_1", "")
	s.requireCode(err, dErrors.CodeValidation, "idempotencyKey is required")
	_, err = s.service.Confirm(s.ctx, sid, "", "k1")
	s.requireCode(err, dErrors.CodeValidation, "paymentId is required")
}

func (s *ServiceSuite) TestConfirmMismatchDoesNotMutate() {
	sid := s.login("tok-1")
	created, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)

	_, err = s.service.Confirm(s.ctx, sid, "pay_00000000000000000000000000000000", "k1")
	s.requireCode(err, dErrors.CodeNotFound, "receipt not found")

	_, err = s.service.Confirm(s.ctx, sid, created.PaymentID, "unknown-key")
	s.requireCode(err, dErrors.CodeNotFound, "receipt not found")

	stored, err := s.store.GetReceipt(s.ctx, "k1")
	s.Require().NoError(err)
	s.Equal(created, stored)
	s.Zero(s.verifier.calls.Load())
}

func (s *ServiceSuite) TestConfirmByAnotherUserIsNotFound() {
	alice := s.login("alice")
	bob := s.login("bob")
	created, err := s.service.Create(s.ctx, alice, 5, "k1")
	s.Require().NoError(err)

	_, err = s.service.Confirm(s.ctx, bob, created.PaymentID, "k1")
	s.requireCode(err, dErrors.CodeNotFound, "receipt not found")

	stored, err := s.store.GetReceipt(s.ctx, "k1")
	s.Require().NoError(err)
	s.Equal(paymentModels.StatusCreated, stored.Status)
}

func (s *ServiceSuite) TestRejectionPath() {
	sid := s.login("tok-1")
	created, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)

	s.verifier.set(false, nil)
	_, err = s.service.Confirm(s.ctx, sid, created.PaymentID, "k1")
	s.requireCode(err, dErrors.CodePaymentRequired, "payment not approved")

	stored, err := s.store.GetReceipt(s.ctx, "k1")
	s.Require().NoError(err)
	s.Equal(paymentModels.StatusRejected, stored.Status)
	s.Equal(events.TypeReceiptRejected, s.recorder.Types()[1])
}

func (s *ServiceSuite) TestVerifierFailureRejects() {
	sid := s.login("tok-1")
	created, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)

	s.verifier.set(false, verifier.ErrRejected)
	_, err = s.service.Confirm(s.ctx, sid, created.PaymentID, "k1")
	s.requireCode(err, dErrors.CodePaymentRequired, "payment not approved")

	stored, err := s.store.GetReceipt(s.ctx, "k1")
	s.Require().NoError(err)
	s.Equal(paymentModels.StatusRejected, stored.Status)
}

func (s *ServiceSuite) TestConfirmIsReentrantByDefault() {
	sid := s.login("tok-1")
	created, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)

	s.verifier.set(false, nil)
	_, err = s.service.Confirm(s.ctx, sid, created.PaymentID, "k1")
	s.Require().Error(err)

	s.verifier.set(true, nil)
	approved, err := s.service.Confirm(s.ctx, sid, created.PaymentID, "k1")
	s.Require().NoError(err)
	s.Equal(paymentModels.StatusApproved, approved.Status)
	s.Equal(created.PaymentID, approved.PaymentID)
	s.Equal(created.CreatedAt, approved.CreatedAt)
}

func (s *ServiceSuite) TestOneShotConfirmRejectsTerminalReceipts() {
	svc := s.newService(WithOneShotConfirm(true))
	sid := s.login("tok-1")
	created, err := svc.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)

	_, err = svc.Confirm(s.ctx, sid, created.PaymentID, "k1")
	s.Require().NoError(err)

	_, err = svc.Confirm(s.ctx, sid, created.PaymentID, "k1")
	s.requireCode(err, dErrors.CodeConflict, "receipt already approved")
	s.Equal(int32(1), s.verifier.calls.Load())
}

func (s *ServiceSuite) TestConcurrentConfirmsShareOneVerification() {
	s.verifier.delay = 50 * time.Millisecond
	sid := s.login("tok-1")
	created, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)

	const n = 8
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.service.Confirm(s.ctx, sid, created.PaymentID, "k1")
			s.NoError(err)
			s.Equal(paymentModels.StatusApproved, r.Status)
		}()
	}
	wg.Wait()
	s.Less(s.verifier.calls.Load(), int32(n))
}

func (s *ServiceSuite) TestScopedListing() {
	alice := s.login("alice")
	bob := s.login("bob")

	for _, key := range []string{"a1", "a2", "a3"} {
		_, err := s.service.Create(s.ctx, alice, 1, key)
		s.Require().NoError(err)
	}
	_, err := s.service.Create(s.ctx, bob, 1, "b1")
	s.Require().NoError(err)

	mine, err := s.service.ListMine(s.ctx, bob)
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal("b1", mine[0].IdempotencyKey)

	theirs, err := s.service.ListMine(s.ctx, alice)
	s.Require().NoError(err)
	s.Len(theirs, 3)
	for _, r := range theirs {
		s.Equal(identity.PseudonymousID("alice"), r.UserID)
	}
}

func (s *ServiceSuite) TestListMineEmptyIsNotNil() {
	mine, err := s.service.ListMine(s.ctx, s.login("tok-1"))
	s.Require().NoError(err)
	s.NotNil(mine)
	s.Empty(mine)
}

func (s *ServiceSuite) TestProtectedContentGate() {
	sid := s.login("tok-1")

	has, err := s.service.HasApproved(s.ctx, sid)
	s.Require().NoError(err)
	s.False(has)
	_, err = s.service.Protected(s.ctx, sid)
	s.requireCode(err, dErrors.CodePaymentRequired, "payment required")

	r1, err := s.service.Create(s.ctx, sid, 5, "k1")
	s.Require().NoError(err)
	_, err = s.service.Confirm(s.ctx, sid, r1.PaymentID, "k1")
	s.Require().NoError(err)

	content, err := s.service.Protected(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal(ProtectedMessage, content.Content)
	s.Equal(identity.PseudonymousID("tok-1"), content.UserID)

	r2, err := s.service.Create(s.ctx, sid, 5, "k2")
	s.Require().NoError(err)
	s.verifier.set(false, nil)
	_, err = s.service.Confirm(s.ctx, sid, r2.PaymentID, "k2")
	s.Require().Error(err)

	has, err = s.service.HasApproved(s.ctx, sid)
	s.Require().NoError(err)
	s.True(has, "a later rejection does not revoke access")
}

type brokenStore struct {
	ReceiptStore
}

func (brokenStore) HasApprovedReceipt(context.Context, string) (bool, error) {
	return false, errors.New("database is locked")
}

func (s *ServiceSuite) TestStoreFailureIsInternal() {
	svc := New(brokenStore{ReceiptStore: s.store}, s.sessions, s.verifier, WithLogger(s.logger))
	_, err := svc.Protected(s.ctx, s.login("tok-1"))
	s.requireCode(err, dErrors.CodeInternal, "")
}

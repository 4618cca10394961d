// Package service implements the payment lifecycle: idempotent creation of
// payment intents, confirmation against the processor, and the queries that
// gate protected content.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pipay/internal/events"
	"pipay/internal/payment/guard"
	paymentModels "pipay/internal/payment/models"
	"pipay/internal/payment/verifier"
	"pipay/internal/platform/metrics"
	"pipay/pkg/domain"
	dErrors "pipay/pkg/domain-errors"
	"pipay/pkg/platform/sentinel"
	"pipay/pkg/requestcontext"
)

// ListMineLimit bounds the user's own receipt listing.
const ListMineLimit = 100

// ProtectedMessage is the content unlocked by an approved payment.
const ProtectedMessage = "This is protected content. Thanks for your payment!"

type ReceiptStore interface {
	CreateReceiptIfAbsent(ctx context.Context, receipt *paymentModels.Receipt) (*paymentModels.Receipt, bool, error)
	GetReceipt(ctx context.Context, idempotencyKey string) (*paymentModels.Receipt, error)
	UpdateReceiptStatus(ctx context.Context, idempotencyKey string, status paymentModels.Status, at time.Time) (*paymentModels.Receipt, error)
	ListReceiptsByUser(ctx context.Context, userID string, limit int) ([]*paymentModels.Receipt, error)
	HasApprovedReceipt(ctx context.Context, userID string) (bool, error)
}

// SessionResolver maps a session id to its user.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (string, error)
}

// PaymentVerifier asks the processor whether a payment went through.
type PaymentVerifier interface {
	Verify(ctx context.Context, paymentID string) (verifier.Decision, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event events.Event)
}

// Service runs the receipt state machine.
type Service struct {
	receipts ReceiptStore
	sessions SessionResolver
	verifier PaymentVerifier
	guard    guard.Guard
	emitter  EventEmitter
	oneShot  bool
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithGuard replaces the in-process confirm guard, e.g. with a Redis lock.
func WithGuard(g guard.Guard) Option {
	return func(s *Service) {
		s.guard = g
	}
}

func WithEmitter(e EventEmitter) Option {
	return func(s *Service) {
		s.emitter = e
	}
}

// WithOneShotConfirm makes APPROVED and REJECTED terminal.
func WithOneShotConfirm(enabled bool) Option {
	return func(s *Service) {
		s.oneShot = enabled
	}
}

// New constructs a Service.
func New(receipts ReceiptStore, sessions SessionResolver, v PaymentVerifier, opts ...Option) *Service {
	s := &Service{
		receipts: receipts,
		sessions: sessions,
		verifier: v,
		guard:    guard.NewLocal(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("pipay/payment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records a payment intent for key, or returns the receipt already
// recorded under it unchanged.
func (s *Service) Create(ctx context.Context, sessionID string, amount float64, idempotencyKey string) (*paymentModels.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Create")
	defer span.End()

	userID, err := s.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if idempotencyKey == "" {
		return nil, s.fail(span, dErrors.New(dErrors.CodeValidation, "idempotencyKey is required"))
	}
	if amount < 0 {
		return nil, s.fail(span, dErrors.New(dErrors.CodeValidation, "amount must not be negative"))
	}
	span.SetAttributes(attribute.String("idempotency_key", idempotencyKey))

	paymentID, err := domain.NewPaymentID()
	if err != nil {
		return nil, s.fail(span, err)
	}
	now := domain.Timestamp(requestcontext.Now(ctx))
	candidate := &paymentModels.Receipt{
		IdempotencyKey: idempotencyKey,
		PaymentID:      paymentID.String(),
		Amount:         amount,
		UserID:         userID,
		Status:         paymentModels.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	receipt, created, err := s.receipts.CreateReceiptIfAbsent(ctx, candidate)
	if err != nil {
		return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create receipt"))
	}
	if created {
		s.transitioned(ctx, events.TypeReceiptCreated, receipt)
	}
	return receipt, nil
}

// Confirm asks the processor about paymentID and settles the receipt for key.
// Concurrent confirms of the same receipt share one verification.
func (s *Service) Confirm(ctx context.Context, sessionID, paymentID, idempotencyKey string) (*paymentModels.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Confirm")
	defer span.End()

	userID, err := s.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if idempotencyKey == "" {
		return nil, s.fail(span, dErrors.New(dErrors.CodeValidation, "idempotencyKey is required"))
	}
	if paymentID == "" {
		return nil, s.fail(span, dErrors.New(dErrors.CodeValidation, "paymentId is required"))
	}
	span.SetAttributes(
		attribute.String("idempotency_key", idempotencyKey),
		attribute.String("payment_id", paymentID),
	)

	flightKey := idempotencyKey + "\x00" + userID + "\x00" + paymentID
	receipt, err := s.guard.Do(ctx, flightKey, func(ctx context.Context) (*paymentModels.Receipt, error) {
		return s.confirm(ctx, userID, paymentID, idempotencyKey)
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	return receipt, nil
}

func (s *Service) confirm(ctx context.Context, userID, paymentID, idempotencyKey string) (*paymentModels.Receipt, error) {
	receipt, err := s.receipts.GetReceipt(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "receipt not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load receipt")
	}
	// another user's receipt is indistinguishable from a missing one
	if receipt.PaymentID != paymentID || receipt.UserID != userID {
		return nil, dErrors.New(dErrors.CodeNotFound, "receipt not found")
	}
	if s.oneShot && receipt.Status.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeConflict, "receipt already "+strings.ToLower(receipt.Status.String()))
	}

	decision, err := s.verifier.Verify(ctx, paymentID)
	if err != nil {
		s.logger.WarnContext(ctx, "payment verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"payment_id", paymentID,
			"error", err,
		)
	}

	if err != nil || !decision.Approved {
		rejected, uerr := s.setStatus(ctx, idempotencyKey, paymentModels.StatusRejected)
		if uerr != nil {
			return nil, uerr
		}
		s.transitioned(ctx, events.TypeReceiptRejected, rejected)
		return nil, dErrors.New(dErrors.CodePaymentRequired, "payment not approved")
	}

	approved, err := s.setStatus(ctx, idempotencyKey, paymentModels.StatusApproved)
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, events.TypeReceiptApproved, approved)
	return approved, nil
}

func (s *Service) setStatus(ctx context.Context, idempotencyKey string, status paymentModels.Status) (*paymentModels.Receipt, error) {
	receipt, err := s.receipts.UpdateReceiptStatus(ctx, idempotencyKey, status, domain.Timestamp(requestcontext.Now(ctx)))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "receipt not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update receipt")
	}
	return receipt, nil
}

// ListMine returns the caller's receipts, newest first.
func (s *Service) ListMine(ctx context.Context, sessionID string) ([]*paymentModels.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "payment.ListMine")
	defer span.End()

	userID, err := s.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	receipts, err := s.receipts.ListReceiptsByUser(ctx, userID, ListMineLimit)
	if err != nil {
		return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list receipts"))
	}
	if receipts == nil {
		receipts = []*paymentModels.Receipt{}
	}
	return receipts, nil
}

// HasApproved reports whether the session's user has any approved receipt.
func (s *Service) HasApproved(ctx context.Context, sessionID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "payment.HasApproved")
	defer span.End()

	userID, err := s.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return false, s.fail(span, err)
	}
	ok, err := s.hasApproved(ctx, userID)
	if err != nil {
		return false, s.fail(span, err)
	}
	return ok, nil
}

func (s *Service) hasApproved(ctx context.Context, userID string) (bool, error) {
	ok, err := s.receipts.HasApprovedReceipt(ctx, userID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check receipts")
	}
	return ok, nil
}

// Protected returns the paid content, or payment_required.
func (s *Service) Protected(ctx context.Context, sessionID string) (*paymentModels.ProtectedContent, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Protected")
	defer span.End()

	userID, err := s.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	ok, err := s.hasApproved(ctx, userID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !ok {
		return nil, s.fail(span, dErrors.New(dErrors.CodePaymentRequired, "payment required"))
	}
	return &paymentModels.ProtectedContent{Content: ProtectedMessage, UserID: userID}, nil
}

func (s *Service) transitioned(ctx context.Context, eventType events.Type, receipt *paymentModels.Receipt) {
	s.metrics.IncrementTransition(receipt.Status.String())
	s.logger.InfoContext(ctx, "receipt "+strings.ToLower(receipt.Status.String()),
		"request_id", requestcontext.RequestID(ctx),
		"idempotency_key", receipt.IdempotencyKey,
		"payment_id", receipt.PaymentID,
		"user_id", receipt.UserID,
	)
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ctx, events.Event{
		Type:           eventType,
		UserID:         receipt.UserID,
		IdempotencyKey: receipt.IdempotencyKey,
		PaymentID:      receipt.PaymentID,
		Status:         receipt.Status.String(),
	})
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, dErrors.MessageOf(err))
	return err
}

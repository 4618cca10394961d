// Package service issues sessions for verified identity tokens and resolves
// them back to user ids for every protected operation.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pipay/internal/platform/metrics"
	sessionModels "pipay/internal/session/models"
	"pipay/pkg/domain"
	dErrors "pipay/pkg/domain-errors"
	"pipay/pkg/platform/sentinel"
	"pipay/pkg/requestcontext"
)

type SessionStore interface {
	CreateSession(ctx context.Context, session *sessionModels.Session) error
	GetSession(ctx context.Context, sessionID string) (*sessionModels.Session, error)
}

// IdentityVerifier resolves an ID token to a user id.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Service issues and resolves sessions.
type Service struct {
	sessions SessionStore
	verifier IdentityVerifier
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

// New constructs a Service.
func New(sessions SessionStore, verifier IdentityVerifier, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		verifier: verifier,
		logger:   slog.Default(),
		tracer:   otel.Tracer("pipay/session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies token and opens a new session for the resulting user.
func (s *Service) Login(ctx context.Context, token string) (*sessionModels.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Login")
	defer span.End()

	userID, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.metrics.IncrementLogin("rejected")
		s.logger.WarnContext(ctx, "login rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		span.SetStatus(codes.Error, "invalid token")
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}

	sessionID, err := domain.NewSessionID()
	if err != nil {
		return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session"))
	}
	session := &sessionModels.Session{
		SessionID: sessionID.String(),
		UserID:    userID,
		CreatedAt: domain.Timestamp(requestcontext.Now(ctx)),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session"))
	}

	s.metrics.IncrementLogin("success")
	span.SetAttributes(attribute.String("user_id", userID))
	s.logLogin(ctx, userID)
	return session, nil
}

func (s *Service) logLogin(ctx context.Context, userID string) {
	ua := useragent.New(requestcontext.UserAgent(ctx))
	browser, version := ua.Browser()
	s.logger.InfoContext(ctx, "session created",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID,
		"client_ip", requestcontext.ClientIP(ctx),
		"browser", browser,
		"browser_version", version,
		"os", ua.OS(),
		"mobile", ua.Mobile(),
		"bot", ua.Bot(),
	)
}

// Resolve returns the user bound to sessionID.
func (s *Service) Resolve(ctx context.Context, sessionID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "session.Resolve")
	defer span.End()

	if sessionID == "" {
		span.SetStatus(codes.Error, "invalid session")
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid session")
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			span.SetStatus(codes.Error, "invalid session")
			return "", dErrors.New(dErrors.CodeUnauthorized, "invalid session")
		}
		return "", s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session"))
	}
	return session.UserID, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, dErrors.MessageOf(err))
	return err
}

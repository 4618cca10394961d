package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pipay/internal/identity"
	"pipay/internal/platform/config"
	sessionModels "pipay/internal/session/models"
	"pipay/internal/storage"
	dErrors "pipay/pkg/domain-errors"
	"pipay/pkg/requestcontext"
)

type failingStore struct{ err error }

func (f failingStore) CreateSession(context.Context, *sessionModels.Session) error { return f.err }
func (f failingStore) GetSession(context.Context, string) (*sessionModels.Session, error) {
	return nil, f.err
}

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *storage.InMemory
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC))
	s.ctx = requestcontext.WithClientMetadata(s.ctx, "203.0.113.7",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	s.store = storage.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(s.store, identity.New(config.Verification{}, identity.WithLogger(logger)), WithLogger(logger))
}

func (s *ServiceSuite) TestLoginIsDeterministicInPermissiveMode() {
	first, err := s.service.Login(s.ctx, "tok-1")
	s.Require().NoError(err)
	second, err := s.service.Login(s.ctx, "tok-1")
	s.Require().NoError(err)

	s.Equal(identity.PseudonymousID("tok-1"), first.UserID)
	s.Equal(first.UserID, second.UserID)
	s.NotEqual(first.SessionID, second.SessionID, "every login opens a fresh session")
	s.Equal(time.Date(2026, 5, 1, 12, 0, 0, 123456000, time.UTC), first.CreatedAt)

	stored, err := s.store.GetSession(s.ctx, first.SessionID)
	s.Require().NoError(err)
	s.Equal(first.UserID, stored.UserID)
}

func (s *ServiceSuite) TestLoginRejectsEmptyToken() {
	_, err := s.service.Login(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Equal("invalid token", dErrors.MessageOf(err))
}

func (s *ServiceSuite) TestLoginStrictWithoutProviderRejects() {
	svc := New(s.store, identity.New(config.Verification{Strict: true}))
	_, err := svc.Login(s.ctx, "tok-1")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestLoginStoreFailureIsInternal() {
	svc := New(failingStore{err: errors.New("disk full")}, identity.New(config.Verification{}))
	_, err := svc.Login(s.ctx, "tok-1")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestResolve() {
	session, err := s.service.Login(s.ctx, "tok-1")
	s.Require().NoError(err)

	userID, err := s.service.Resolve(s.ctx, session.SessionID)
	s.Require().NoError(err)
	s.Equal(session.UserID, userID)
}

func (s *ServiceSuite) TestResolveIsAPlainLookup() {
	s.Require().NoError(s.store.CreateSession(s.ctx, &sessionModels.Session{
		SessionID: "sess_0123456789abcdef",
		UserID:    "user_legacy",
	}))

	userID, err := s.service.Resolve(s.ctx, "sess_0123456789abcdef")
	s.Require().NoError(err)
	s.Equal("user_legacy", userID)
}

func (s *ServiceSuite) TestResolveInvalidSessions() {
	for _, id := range []string{"", "nope", "sess_00000000000000000000000000000000"} {
		_, err := s.service.Resolve(s.ctx, id)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "id %q", id)
		s.Equal("invalid session", dErrors.MessageOf(err))
	}
}

func (s *ServiceSuite) TestResolveStoreFailureIsInternal() {
	svc := New(failingStore{err: errors.New("connection reset")}, identity.New(config.Verification{}))
	_, err := svc.Resolve(s.ctx, "sess_00000000000000000000000000000000")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

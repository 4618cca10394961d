package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"pipay/internal/platform/config"
	"pipay/pkg/platform/circuit"
)

type ChainSuite struct {
	suite.Suite
	ctx    context.Context
	logger *slog.Logger
}

func TestChainSuite(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ChainSuite) provider(status int, body string) (*httptest.Server, *atomic.Int32) {
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		s.Equal("/auth/verify", r.URL.Path)
		s.Equal(http.MethodPost, r.Method)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	s.T().Cleanup(srv.Close)
	return srv, calls
}

func (s *ChainSuite) TestPseudonymousID() {
	id := PseudonymousID("tok-1")
	s.Len(id, 16)
	s.Equal(id, PseudonymousID("tok-1"))
	s.NotEqual(id, PseudonymousID("tok-2"))
}

func (s *ChainSuite) TestEmptyTokenAlwaysRejects() {
	for _, strict := range []bool{true, false} {
		chain := New(config.Verification{Strict: strict}, WithLogger(s.logger))
		_, err := chain.Verify(s.ctx, "")
		s.ErrorIs(err, ErrRejected)
	}
}

func (s *ChainSuite) TestPermissiveWithoutProviderIsPseudonymous() {
	chain := New(config.Verification{}, WithLogger(s.logger))
	userID, err := chain.Verify(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.Equal(PseudonymousID("tok-1"), userID)
	s.Equal("none", chain.Strategy())
}

func (s *ChainSuite) TestStrictWithoutProviderRejects() {
	chain := New(config.Verification{Strict: true}, WithLogger(s.logger))
	_, err := chain.Verify(s.ctx, "tok-1")
	s.ErrorIs(err, ErrRejected)
}

func (s *ChainSuite) TestRemoteUserIDTrustedVerbatim() {
	srv, _ := s.provider(http.StatusOK, `{"userId":"pi-user-42"}`)
	chain := New(config.Verification{Strict: true, APIBase: srv.URL, APISecret: "key"}, WithLogger(s.logger))

	userID, err := chain.Verify(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.Equal("pi-user-42", userID)
	s.Equal("remote", chain.Strategy())
}

func (s *ChainSuite) TestBaseWithoutSecretIsNotRemote() {
	srv, calls := s.provider(http.StatusOK, `{"userId":"pi-user-42"}`)
	chain := New(config.Verification{APIBase: srv.URL}, WithLogger(s.logger))

	userID, err := chain.Verify(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.Equal(PseudonymousID("tok-1"), userID)
	s.Equal("none", chain.Strategy())
	s.Zero(calls.Load())
}

func (s *ChainSuite) TestRemoteFailures() {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"provider rejects token", http.StatusUnauthorized, `{}`},
		{"provider outage", http.StatusServiceUnavailable, ``},
		{"missing userId", http.StatusOK, `{"userId":""}`},
		{"malformed body", http.StatusOK, `{`},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			srv, _ := s.provider(tc.status, tc.body)

			strict := New(config.Verification{Strict: true, APIBase: srv.URL, APISecret: "key"}, WithLogger(s.logger))
			_, err := strict.Verify(s.ctx, "tok-1")
			s.ErrorIs(err, ErrRejected)

			permissive := New(config.Verification{APIBase: srv.URL, APISecret: "key"}, WithLogger(s.logger))
			userID, err := permissive.Verify(s.ctx, "tok-1")
			s.Require().NoError(err)
			s.Equal(PseudonymousID("tok-1"), userID)
		})
	}
}

func (s *ChainSuite) TestRemoteTimeoutIsAFailure() {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	chain := New(config.Verification{Strict: true, APIBase: srv.URL, APISecret: "key", Timeout: 20 * time.Millisecond}, WithLogger(s.logger))
	_, err := chain.Verify(s.ctx, "tok-1")
	s.ErrorIs(err, ErrRejected)
}

func (s *ChainSuite) TestOpenCircuitSkipsProvider() {
	srv, calls := s.provider(http.StatusBadGateway, ``)
	breaker := circuit.New("identity", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	chain := New(config.Verification{APIBase: srv.URL, APISecret: "key"}, WithLogger(s.logger), WithBreaker(breaker))

	for range 4 {
		userID, err := chain.Verify(s.ctx, "tok-1")
		s.Require().NoError(err)
		s.Equal(PseudonymousID("tok-1"), userID)
	}
	s.Equal(int32(2), calls.Load())
	s.True(breaker.IsOpen())
}

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTVerifier(t *testing.T) {
	const secret = "jwt-secret"
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v := NewJWTVerifier(secret)
	v.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("valid token yields subject", func(t *testing.T) {
		token := signed(t, secret, jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}, jwt.SigningMethodHS256)
		userID, err := v.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "user-7", userID)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signed(t, secret, jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		}, jwt.SigningMethodHS256)
		_, err := v.Verify(ctx, token)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signed(t, "other", jwt.RegisteredClaims{Subject: "user-7"}, jwt.SigningMethodHS256)
		_, err := v.Verify(ctx, token)
		assert.Error(t, err)
	})

	t.Run("other algorithm", func(t *testing.T) {
		token := signed(t, secret, jwt.RegisteredClaims{Subject: "user-7"}, jwt.SigningMethodHS512)
		_, err := v.Verify(ctx, token)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signed(t, secret, jwt.RegisteredClaims{}, jwt.SigningMethodHS256)
		_, err := v.Verify(ctx, token)
		assert.Error(t, err)
	})
}

func TestChainUsesJWTWhenNoRemote(t *testing.T) {
	chain := New(config.Verification{Strict: true, JWTSecret: "s"},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	assert.Equal(t, "jwt", chain.Strategy())

	token := signed(t, "s", jwt.RegisteredClaims{Subject: "alice"}, jwt.SigningMethodHS256)
	userID, err := chain.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = chain.Verify(context.Background(), "not-a-jwt")
	assert.True(t, errors.Is(err, ErrRejected))
}

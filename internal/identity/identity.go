// Package identity turns an externally issued ID token into a stable user id.
//
// A Chain is built once from configuration: an optional primary strategy
// (remote provider or locally verified JWT) plus a fallback policy. In strict
// mode primary failures reject the login; in permissive mode they degrade to a
// pseudonymous id derived from the token itself.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pipay/internal/platform/config"
	"pipay/internal/platform/metrics"
	"pipay/internal/platform/provider"
	"pipay/pkg/platform/circuit"
)

// ErrRejected is returned when a token cannot be turned into a user id.
var ErrRejected = errors.New("identity token rejected")

// Verifier resolves an ID token to a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// RemoteVerifier asks the identity provider to vouch for the token.
type RemoteVerifier struct {
	client *provider.Client
}

func NewRemoteVerifier(client *provider.Client) *RemoteVerifier {
	return &RemoteVerifier{client: client}
}

type verifyRequest struct {
	IDToken string `json:"idToken"`
}

type verifyResponse struct {
	UserID string `json:"userId"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (string, error) {
	var resp verifyResponse
	if err := v.client.Do(ctx, http.MethodPost, "/auth/verify", verifyRequest{IDToken: token}, &resp); err != nil {
		return "", err
	}
	if resp.UserID == "" {
		return "", provider.Fail(v.client.ID(), provider.KindBadData, "response has no userId", nil)
	}
	return resp.UserID, nil
}

// JWTVerifier validates HS256 ID tokens locally; the subject is the user id.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", provider.Fail("jwt", provider.KindAuth, "invalid id token", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", provider.Fail("jwt", provider.KindAuth, "id token has no subject", nil)
	}
	return claims.Subject, nil
}

// PseudonymousVerifier derives a stable, non-reversible id from the token.
type PseudonymousVerifier struct{}

func (PseudonymousVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrRejected
	}
	return PseudonymousID(token), nil
}

// PseudonymousID is the first 16 hex chars of sha256(token).
func PseudonymousID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

// Chain applies the configured strategy and fallback policy.
type Chain struct {
	primary     Verifier
	primaryName string
	guard       *provider.Guard
	strict      bool
	fallback    PseudonymousVerifier
	logger      *slog.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	breaker    *circuit.Breaker
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHTTPClient sets the client used for remote verification.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBreaker replaces the default breaker in front of the primary strategy.
func WithBreaker(b *circuit.Breaker) Option {
	return func(o *options) { o.breaker = b }
}

// New selects the primary strategy from cfg: remote when PI_API_BASE and
// PI_API_SECRET are both set, else local JWT when IDENTITY_JWT_SECRET is set,
// else none.
func New(cfg config.Verification, opts ...Option) *Chain {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.breaker == nil {
		o.breaker = circuit.New("identity")
	}

	c := &Chain{strict: cfg.Strict, logger: o.logger}
	switch {
	case cfg.RemoteConfigured():
		clientOpts := []provider.ClientOption{provider.WithTimeout(cfg.Timeout)}
		if o.httpClient != nil {
			clientOpts = append(clientOpts, provider.WithHTTPClient(o.httpClient))
		}
		c.primary = NewRemoteVerifier(provider.NewClient("pi-identity", cfg.APIBase, cfg.APISecret, clientOpts...))
		c.primaryName = "remote"
	case cfg.JWTSecret != "":
		c.primary = NewJWTVerifier(cfg.JWTSecret)
		c.primaryName = "jwt"
	}
	c.guard = provider.NewGuard("identity_"+c.primaryNameOr("none"), o.breaker, o.logger, o.metrics)
	return c
}

// Strategy names the primary strategy ("remote", "jwt" or "none").
func (c *Chain) Strategy() string { return c.primaryNameOr("none") }

func (c *Chain) primaryNameOr(def string) string {
	if c.primaryName == "" {
		return def
	}
	return c.primaryName
}

// Verify returns the user id for token or an error wrapping ErrRejected.
func (c *Chain) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrRejected
	}

	if c.primary == nil {
		if c.strict {
			return "", fmt.Errorf("%w: no identity provider configured", ErrRejected)
		}
		return c.fallback.Verify(ctx, token)
	}

	var userID string
	err := c.guard.Run(ctx, func(ctx context.Context) error {
		var err error
		userID, err = c.primary.Verify(ctx, token)
		return err
	})
	if err == nil {
		return userID, nil
	}

	if c.strict {
		return "", fmt.Errorf("%w: %w", ErrRejected, err)
	}
	c.logger.WarnContext(ctx, "identity verification failed, using pseudonymous id",
		"strategy", c.primaryName,
		"kind", provider.KindOf(err),
		"error", err,
	)
	return c.fallback.Verify(ctx, token)
}

// Package verifier decides whether a payment was approved by the processor.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"pipay/internal/platform/config"
	"pipay/internal/platform/metrics"
	"pipay/internal/platform/provider"
	"pipay/pkg/platform/circuit"
)

// StatusApproved is the processor status that counts as paid.
const StatusApproved = "APPROVED"

// Decision sources.
const (
	SourceRemote = "remote"
	SourceStub   = "stub"
)

// ErrRejected is returned in strict mode when the processor cannot be consulted.
var ErrRejected = errors.New("payment verification failed")

// Decision is the outcome of a verification.
type Decision struct {
	Approved bool
	Status   string
	Source   string
}

// Verifier checks a payment with the processor.
type Verifier interface {
	Verify(ctx context.Context, paymentID string) (Decision, error)
}

// RemoteVerifier queries the processor's payment record.
type RemoteVerifier struct {
	client *provider.Client
}

func NewRemoteVerifier(client *provider.Client) *RemoteVerifier {
	return &RemoteVerifier{client: client}
}

type paymentResponse struct {
	Status string `json:"status"`
}

// Verify approves iff the processor reports status APPROVED (case-sensitive).
func (v *RemoteVerifier) Verify(ctx context.Context, paymentID string) (Decision, error) {
	var resp paymentResponse
	if err := v.client.Do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &resp); err != nil {
		return Decision{}, err
	}
	return Decision{
		Approved: resp.Status == StatusApproved,
		Status:   resp.Status,
		Source:   SourceRemote,
	}, nil
}

// StubVerifier approves everything. Used in permissive mode when no processor
// is configured or it cannot be reached.
type StubVerifier struct{}

func (StubVerifier) Verify(context.Context, string) (Decision, error) {
	return Decision{Approved: true, Status: StatusApproved, Source: SourceStub}, nil
}

// Policy applies strict or permissive handling around the configured verifier.
type Policy struct {
	remote Verifier
	guard  *provider.Guard
	strict bool
	stub   StubVerifier
	logger *slog.Logger
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

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(o *options) { o.breaker = b }
}

// New builds the policy from cfg.
func New(cfg config.Verification, opts ...Option) *Policy {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.breaker == nil {
		o.breaker = circuit.New("payment")
	}

	p := &Policy{strict: cfg.Strict, logger: o.logger}
	if cfg.RemoteConfigured() {
		clientOpts := []provider.ClientOption{provider.WithTimeout(cfg.Timeout)}
		if o.httpClient != nil {
			clientOpts = append(clientOpts, provider.WithHTTPClient(o.httpClient))
		}
		p.remote = NewRemoteVerifier(provider.NewClient("pi-payments", cfg.APIBase, cfg.APISecret, clientOpts...))
	}
	p.guard = provider.NewGuard("payment", o.breaker, o.logger, o.metrics)
	return p
}

// Mode names the policy for diagnostics.
func (p *Policy) Mode() string {
	switch {
	case p.remote != nil:
		return SourceRemote
	case p.strict:
		return "reject"
	default:
		return SourceStub
	}
}

// Verify returns the processor's decision. A definitive answer from the
// processor is never overridden; only failures to obtain one are subject to
// the strict/permissive policy.
func (p *Policy) Verify(ctx context.Context, paymentID string) (Decision, error) {
	if p.remote == nil {
		if p.strict {
			return Decision{}, fmt.Errorf("%w: no payment processor configured", ErrRejected)
		}
		return p.stub.Verify(ctx, paymentID)
	}

	var decision Decision
	err := p.guard.Run(ctx, func(ctx context.Context) error {
		var err error
		decision, err = p.remote.Verify(ctx, paymentID)
		return err
	})
	if err == nil {
		return decision, nil
	}

	if p.strict {
		return Decision{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	p.logger.WarnContext(ctx, "payment verification failed, using stub approval",
		"payment_id", paymentID,
		"kind", provider.KindOf(err),
		"error", err,
	)
	return p.stub.Verify(ctx, paymentID)
}

package provider

import (
	"context"
	"log/slog"
	"time"

	"pipay/internal/platform/metrics"
	"pipay/pkg/platform/circuit"
)

// Guard runs provider calls behind a circuit breaker and records outcome
// metrics. A definitive answer from the provider (bad token, unknown payment)
// closes the breaker like a success.
type Guard struct {
	name    string
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewGuard creates a guard for the named verifier.
func NewGuard(name string, breaker *circuit.Breaker, logger *slog.Logger, m *metrics.Metrics) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{name: name, breaker: breaker, logger: logger, metrics: m}
}

// Run calls fn unless the breaker is open, in which case ErrCircuitOpen is
// returned immediately.
func (g *Guard) Run(ctx context.Context, fn func(context.Context) error) error {
	if g.breaker != nil && !g.breaker.Allow() {
		g.metrics.IncrementVerifierOutcome(g.name, "circuit_open")
		return ErrCircuitOpen
	}

	start := time.Now()
	err := fn(ctx)
	g.metrics.ObserveVerifierLatency(g.name, time.Since(start))

	switch {
	case err == nil:
		g.metrics.IncrementVerifierOutcome(g.name, "ok")
		g.recordSuccess(ctx)
	case Transient(err):
		g.metrics.IncrementVerifierOutcome(g.name, string(KindOf(err)))
		g.recordFailure(ctx)
	default:
		g.metrics.IncrementVerifierOutcome(g.name, string(KindOf(err)))
		g.recordSuccess(ctx)
	}
	return err
}

func (g *Guard) recordSuccess(ctx context.Context) {
	if g.breaker == nil {
		return
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "provider circuit closed", "provider", g.breaker.Name())
	}
}

func (g *Guard) recordFailure(ctx context.Context) {
	if g.breaker == nil {
		return
	}
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.WarnContext(ctx, "provider circuit opened", "provider", g.breaker.Name())
	}
}

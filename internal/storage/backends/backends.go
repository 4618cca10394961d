// Package backends picks the persistence tier at startup. The preferred tier
// comes from configuration; when it fails to initialize the next tier is
// tried (postgres, then sqlite, then memory) and a warning is logged.
package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pipay/internal/platform/config"
	"pipay/internal/platform/metrics"
	"pipay/internal/storage"
	"pipay/internal/storage/sqlstore"
)

// Opener initializes one backend tier.
type Opener func(ctx context.Context, cfg config.Store) (storage.Adapter, error)

type selector struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	openers map[string]Opener
}

// Option configures Open.
type Option func(*selector)

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *selector) { s.logger = logger }
}

// WithMetrics reports the chosen backend.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *selector) { s.metrics = m }
}

// WithOpener replaces the opener for a tier; used by tests and tooling.
func WithOpener(backend string, open Opener) Option {
	return func(s *selector) { s.openers[backend] = open }
}

func openPostgres(ctx context.Context, cfg config.Store) (storage.Adapter, error) {
	return sqlstore.OpenPostgres(ctx, cfg.PGDriver, cfg.DatabaseURL, sqlstore.PoolConfig{})
}

func openSQLite(ctx context.Context, cfg config.Store) (storage.Adapter, error) {
	return sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
}

func openMemory(context.Context, config.Store) (storage.Adapter, error) {
	return storage.NewInMemory(), nil
}

// tiers lists the backends to try, best first.
func tiers(preferred string) []string {
	switch preferred {
	case config.BackendPostgres:
		return []string{config.BackendPostgres, config.BackendSQLite, config.BackendMemory}
	case config.BackendSQLite:
		return []string{config.BackendSQLite, config.BackendMemory}
	default:
		return []string{config.BackendMemory}
	}
}

// Open returns the first backend tier that initializes.
func Open(ctx context.Context, cfg config.Store, opts ...Option) (storage.Adapter, error) {
	s := &selector{
		logger: slog.Default(),
		openers: map[string]Opener{
			config.BackendPostgres: openPostgres,
			config.BackendSQLite:   openSQLite,
			config.BackendMemory:   openMemory,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	preferred := cfg.PreferredBackend()
	var errs []error
	for _, backend := range tiers(preferred) {
		adapter, err := s.openers[backend](ctx, cfg)
		if err != nil {
			s.logger.WarnContext(ctx, "persistence backend unavailable, falling back",
				"backend", backend,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", backend, err))
			continue
		}
		if backend != preferred {
			s.logger.WarnContext(ctx, "running on fallback persistence backend",
				"preferred", preferred,
				"backend", adapter.Backend(),
			)
		} else {
			s.logger.InfoContext(ctx, "persistence backend ready", "backend", adapter.Backend())
		}
		s.metrics.SetStorageBackend(adapter.Backend())
		return adapter, nil
	}
	return nil, fmt.Errorf("no persistence backend available: %w", errors.Join(errs...))
}

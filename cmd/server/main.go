package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"pipay/internal/admin"
	"pipay/internal/events"
	"pipay/internal/identity"
	"pipay/internal/payment/guard"
	paymentHandler "pipay/internal/payment/handler"
	paymentService "pipay/internal/payment/service"
	"pipay/internal/payment/verifier"
	"pipay/internal/platform/config"
	"pipay/internal/platform/httpserver"
	"pipay/internal/platform/logger"
	"pipay/internal/platform/metrics"
	"pipay/internal/platform/redis"
	sessionHandler "pipay/internal/session/handler"
	sessionService "pipay/internal/session/service"
	"pipay/internal/storage/backends"
	httptransport "pipay/internal/transport/http"
	"pipay/internal/webhook"
	adminmw "pipay/pkg/platform/middleware/admin"
)

const shutdownTimeout = 10 * time.Second

// main wires the process. Business logic lives in the internal service
// packages; everything here is construction and lifecycle.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pipay:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := backends.Open(ctx, cfg.Store, backends.WithLogger(log), backends.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	warnInsecureDefaults(ctx, log, cfg)

	ids := identity.New(cfg.Verify, identity.WithLogger(log), identity.WithMetrics(m))
	payments := verifier.New(cfg.Verify, verifier.WithLogger(log), verifier.WithMetrics(m))

	publisher, closePublisher, err := newPublisher(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer closePublisher()
	emitter := events.NewEmitter(publisher, events.WithLogger(log), events.WithMetrics(m))

	confirmGuard, closeGuard, err := newGuard(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGuard()

	sessions := sessionService.New(store, ids,
		sessionService.WithLogger(log),
		sessionService.WithMetrics(m),
	)
	receipts := paymentService.New(store, sessions, payments,
		paymentService.WithLogger(log),
		paymentService.WithMetrics(m),
		paymentService.WithGuard(confirmGuard),
		paymentService.WithEmitter(emitter),
		paymentService.WithOneShotConfirm(cfg.Payments.ConfirmOneShot),
	)

	router := httptransport.NewRouter(cfg, httptransport.Deps{
		Logger:   log,
		Metrics:  m,
		Gatherer: reg,
		Store:    store,
		Modes: map[string]string{
			"identityStrategy": ids.Strategy(),
			"paymentMode":      payments.Mode(),
		},
		Routes: []httptransport.Registrar{
			sessionHandler.New(sessions, log),
			paymentHandler.New(receipts, log),
			webhook.New(webhook.NewAuthenticator(cfg.Verify.EffectiveWebhookSecret()), emitter, log),
			admin.NewHandler(admin.NewService(store), adminmw.Credentials{User: cfg.Admin.User, Pass: cfg.Admin.Pass}, log),
		},
	})
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting pipay",
			"addr", cfg.Server.Addr,
			"backend", store.Backend(),
			"identity", ids.Strategy(),
			"payments", payments.Mode(),
			"strict", cfg.Verify.Strict,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		log.InfoContext(shutdownCtx, "shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func warnInsecureDefaults(ctx context.Context, log *slog.Logger, cfg config.Config) {
	if cfg.Verify.EffectiveWebhookSecret() == config.DevWebhookSecret {
		log.WarnContext(ctx, "webhooks are verified with the development secret; set WEBHOOK_SECRET")
	}
	if (cfg.Verify.APIBase != "") != (cfg.Verify.APISecret != "") {
		log.WarnContext(ctx, "PI_API_BASE and PI_API_SECRET must both be set; remote verification is off")
	}
	if cfg.Verify.Strict && !cfg.Verify.RemoteConfigured() && cfg.Verify.JWTSecret == "" {
		log.WarnContext(ctx, "strict verification without an identity provider; every login will be rejected")
	}
	if cfg.Verify.Strict && cfg.Verify.WebhookSecret == "" {
		log.WarnContext(ctx, "strict verification without WEBHOOK_SECRET; every webhook will be rejected")
	}
	if !cfg.Admin.Configured() {
		log.InfoContext(ctx, "admin endpoints disabled; set ADMIN_USER and ADMIN_PASS")
	}
}

func newPublisher(ctx context.Context, cfg config.Kafka, log *slog.Logger) (events.Publisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		return events.NewLogPublisher(log), func() {}, nil
	}
	kp, err := events.NewKafkaPublisher(ctx, cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka: %w", err)
	}
	log.InfoContext(ctx, "publishing events to kafka", "topic", kp.Topic())
	return kp, kp.Close, nil
}

func newGuard(ctx context.Context, cfg config.Config, log *slog.Logger) (guard.Guard, func(), error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	if client == nil {
		return guard.NewLocal(), func() {}, nil
	}
	log.InfoContext(ctx, "confirm guard distributed via redis")
	g := guard.NewRedis(client.Client, cfg.Payments.ConfirmLockTTL, cfg.Payments.ConfirmLockWait, log)
	return g, func() { _ = client.Close() }, nil
}

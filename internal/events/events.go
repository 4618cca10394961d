// Package events publishes receipt and webhook lifecycle events. Publishing is
// best effort: an Emitter logs and counts failures but never returns them to
// the request path.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pipay/internal/platform/metrics"
)

// Type identifies what happened.
type Type string

const (
	TypeReceiptCreated  Type = "receipt.created"
	TypeReceiptApproved Type = "receipt.approved"
	TypeReceiptRejected Type = "receipt.rejected"
	TypeWebhookReceived Type = "webhook.received"
)

// Event is the transport-agnostic envelope.
type Event struct {
	ID             uuid.UUID       `json:"id"`
	Type           Type            `json:"type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	UserID         string          `json:"user_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	PaymentID      string          `json:"payment_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Key is the partitioning key: the idempotency key when present so all events
// of one receipt stay ordered, otherwise the event id.
func (e Event) Key() string {
	if e.IdempotencyKey != "" {
		return e.IdempotencyKey
	}
	return e.ID.String()
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emitter stamps events and hands them to a Publisher without failing callers.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) EmitterOption {
	return func(e *Emitter) { e.metrics = m }
}

func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// NewEmitter wraps publisher.
func NewEmitter(publisher Publisher, opts ...EmitterOption) *Emitter {
	e := &Emitter{publisher: publisher, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit fills in ID and OccurredAt when unset and publishes. A nil Emitter is a no-op.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if e == nil || e.publisher == nil {
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now().UTC()
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.metrics.IncrementEventFailure(string(event.Type))
		e.logger.WarnContext(ctx, "event publish failed",
			"event_type", event.Type,
			"event_id", event.ID,
			"error", err,
		)
	}
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "event",
		"event_type", event.Type,
		"event_id", event.ID,
		"user_id", event.UserID,
		"idempotency_key", event.IdempotencyKey,
		"payment_id", event.PaymentID,
		"status", event.Status,
	)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

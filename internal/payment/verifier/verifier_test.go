package verifier

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipay/internal/platform/config"
	"pipay/pkg/platform/circuit"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func processor(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/payments/pay_1", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestRemoteDecision(t *testing.T) {
	cases := []struct {
		body     string
		approved bool
	}{
		{`{"status":"APPROVED"}`, true},
		{`{"status":"approved"}`, false},
		{`{"status":"PENDING"}`, false},
		{`{}`, false},
	}
	for _, tc := range cases {
		for _, strict := range []bool{true, false} {
			srv, _ := processor(t, http.StatusOK, tc.body)
			p := New(config.Verification{Strict: strict, APIBase: srv.URL, APISecret: "key"}, WithLogger(discard()))

			d, err := p.Verify(context.Background(), "pay_1")
			require.NoError(t, err, tc.body)
			assert.Equal(t, tc.approved, d.Approved, "body %s strict %v", tc.body, strict)
			assert.Equal(t, SourceRemote, d.Source)
		}
	}
}

func TestProviderFailurePolicy(t *testing.T) {
	t.Run("strict fails closed", func(t *testing.T) {
		srv, _ := processor(t, http.StatusInternalServerError, ``)
		p := New(config.Verification{Strict: true, APIBase: srv.URL, APISecret: "key"}, WithLogger(discard()))
		_, err := p.Verify(context.Background(), "pay_1")
		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("permissive falls back to stub", func(t *testing.T) {
		srv, _ := processor(t, http.StatusInternalServerError, ``)
		p := New(config.Verification{APIBase: srv.URL, APISecret: "key"}, WithLogger(discard()))
		d, err := p.Verify(context.Background(), "pay_1")
		require.NoError(t, err)
		assert.True(t, d.Approved)
		assert.Equal(t, SourceStub, d.Source)
	})

	t.Run("unknown payment in strict mode", func(t *testing.T) {
		srv, _ := processor(t, http.StatusNotFound, ``)
		p := New(config.Verification{Strict: true, APIBase: srv.URL, APISecret: "key"}, WithLogger(discard()))
		_, err := p.Verify(context.Background(), "pay_1")
		assert.ErrorIs(t, err, ErrRejected)
	})
}

func TestNoProcessorConfigured(t *testing.T) {
	strict := New(config.Verification{Strict: true})
	_, err := strict.Verify(context.Background(), "pay_1")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, "reject", strict.Mode())

	permissive := New(config.Verification{})
	d, err := permissive.Verify(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, Decision{Approved: true, Status: StatusApproved, Source: SourceStub}, d)
	assert.Equal(t, SourceStub, permissive.Mode())
}

func TestBaseWithoutSecretUsesNoProcessor(t *testing.T) {
	srv, calls := processor(t, http.StatusOK, `{"status":"PENDING"}`)

	strict := New(config.Verification{Strict: true, APIBase: srv.URL})
	_, err := strict.Verify(context.Background(), "pay_1")
	assert.ErrorIs(t, err, ErrRejected)

	permissive := New(config.Verification{APIBase: srv.URL})
	d, err := permissive.Verify(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, SourceStub, d.Source)
	assert.Zero(t, calls.Load())
}

func TestBreakerShortCircuitsProcessor(t *testing.T) {
	srv, calls := processor(t, http.StatusServiceUnavailable, ``)
	breaker := circuit.New("payment", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	p := New(config.Verification{Strict: true, APIBase: srv.URL, APISecret: "key"},
		WithLogger(discard()), WithBreaker(breaker))

	for range 3 {
		_, err := p.Verify(context.Background(), "pay_1")
		assert.ErrorIs(t, err, ErrRejected)
	}
	assert.Equal(t, int32(1), calls.Load())
}

package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("verify: %w", Fail("pi-payments", KindOutage, "request failed", cause))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindOutage, KindOf(err))
	assert.True(t, Transient(err))
	assert.Equal(t, "verify: pi-payments: request failed (provider_outage): connection reset", err.Error())
	assert.Equal(t, "jwt: invalid id token (authentication)", Fail("jwt", KindAuth, "invalid id token", nil).Error())
}

func TestTransientKinds(t *testing.T) {
	transient := map[Kind]bool{
		KindTimeout:   true,
		KindOutage:    true,
		KindRateLimit: true,
		KindBadData:   false,
		KindAuth:      false,
		KindNotFound:  false,
		KindLocal:     false,
	}
	for kind, want := range transient {
		assert.Equal(t, want, kind.Transient(), kind)
		assert.Equal(t, want, Transient(Fail("pi", kind, "call", nil)), kind)
	}

	assert.False(t, Transient(errors.New("plain")))
	assert.Equal(t, KindLocal, KindOf(errors.New("plain")))
	assert.False(t, Transient(ErrCircuitOpen), "an open breaker is not a new failure")
}

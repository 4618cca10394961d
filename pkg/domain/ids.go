package domain

import (
	"crypto/rand"
	"encoding/hex"

	dErrors "pipay/pkg/domain-errors"
)

const (
	sessionPrefix = "sess_"
	paymentPrefix = "pay_"

	// idEntropyBytes is the number of random bytes behind every generated id.
	idEntropyBytes = 16
)

// SessionID is a server-issued opaque session handle.
type SessionID string

// PaymentID identifies a payment intent at the processor.
type PaymentID string

// NewSessionID returns a fresh session id drawn from crypto/rand.
func NewSessionID() (SessionID, error) {
	s, err := randomToken(sessionPrefix)
	return SessionID(s), err
}

// NewPaymentID returns a fresh payment id drawn from crypto/rand.
func NewPaymentID() (PaymentID, error) {
	s, err := randomToken(paymentPrefix)
	return PaymentID(s), err
}

func (id SessionID) String() string { return string(id) }

func (id PaymentID) String() string { return string(id) }

func randomToken(prefix string) (string, error) {
	buf := make([]byte, idEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate id")
	}
	return prefix + hex.EncodeToString(buf), nil
}

package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a failed provider call. The values double as metric labels.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindBadData   Kind = "bad_data"
	KindAuth      Kind = "authentication"
	KindOutage    Kind = "provider_outage"
	KindNotFound  Kind = "not_found"
	KindRateLimit Kind = "rate_limited"
	KindLocal     Kind = "internal"
)

// Transient reports whether k says nothing about the token or payment itself.
// Only transient failures count against the breaker.
func (k Kind) Transient() bool {
	switch k {
	case KindTimeout, KindOutage, KindRateLimit:
		return true
	}
	return false
}

// ErrCircuitOpen is returned without calling the provider while its breaker is open.
var ErrCircuitOpen = errors.New("provider circuit open")

// Error is a failed call to Provider.
type Error struct {
	Kind     Kind
	Provider string
	Op       string
	Err      error
}

// Fail builds the *Error every verifier returns on a failed call.
func Fail(provider string, kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Provider + ": " + e.Op + " (" + string(e.Kind) + ")"
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf maps err to its Kind. An open breaker reads as an outage; anything
// that did not come from a provider call is KindLocal.
func KindOf(err error) Kind {
	if errors.Is(err, ErrCircuitOpen) {
		return KindOutage
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindLocal
}

// Transient reports whether err is a transient provider failure.
func Transient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind.Transient()
}

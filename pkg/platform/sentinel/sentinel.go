package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, verifiers and guards return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: session or receipt does not exist in the store
//   - ErrConflict: a competing writer holds the resource
//   - ErrInvalidState: receipt is in a state that forbids the operation
//   - ErrUnavailable: backend or provider temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

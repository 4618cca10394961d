package models

import (
	"fmt"
	"time"
)

// Status is the receipt lifecycle state.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus accepts the exact upper-case status names.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusCreated, StatusApproved, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown receipt status %q", s)
	}
}

// IsTerminal reports whether confirmation has decided the receipt.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s Status) String() string { return string(s) }

// Receipt is the durable record of a payment intent and its outcome. The JSON
// names match the persisted column names.
type Receipt struct {
	IdempotencyKey string    `json:"idempotency_key"`
	PaymentID      string    `json:"payment_id"`
	Amount         float64   `json:"amount"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProtectedContent is what an approved user unlocks.
type ProtectedContent struct {
	Content string `json:"content"`
	UserID  string `json:"userId"`
}

package admin

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	paymentModels "pipay/internal/payment/models"
	sessionModels "pipay/internal/session/models"
)

var (
	sessionColumns = []string{"session_id", "user_id", "created_at"}
	receiptColumns = []string{"idempotency_key", "payment_id", "amount", "user_id", "status", "created_at", "updated_at"}
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// WriteSessionsCSV writes a header row and one row per session.
func WriteSessionsCSV(w io.Writer, sessions []*sessionModels.Session) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sessionColumns); err != nil {
		return err
	}
	for _, s := range sessions {
		if err := cw.Write([]string{s.SessionID, s.UserID, formatTime(s.CreatedAt)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReceiptsCSV writes a header row and one row per receipt.
func WriteReceiptsCSV(w io.Writer, receipts []*paymentModels.Receipt) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(receiptColumns); err != nil {
		return err
	}
	for _, r := range receipts {
		row := []string{
			r.IdempotencyKey,
			r.PaymentID,
			strconv.FormatFloat(r.Amount, 'f', -1, 64),
			r.UserID,
			r.Status.String(),
			formatTime(r.CreatedAt),
			formatTime(r.UpdatedAt),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

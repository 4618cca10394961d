// Package sqlstore implements storage.Adapter on database/sql for the
// relational (Postgres via lib/pq or pgx) and embedded-file (SQLite) backends.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paymentModels "pipay/internal/payment/models"
	sessionModels "pipay/internal/session/models"
	"pipay/internal/storage"
	"pipay/pkg/domain"
	txcontext "pipay/pkg/platform/tx"
)

const receiptColumns = "idempotency_key, payment_id, amount, user_id, status, created_at, updated_at"

// Store is a SQL-backed storage.Adapter.
type Store struct {
	db      *sql.DB
	dialect dialect

	// receiptsMu serializes check-then-insert on engines flagged with
	// serializeWrites.
	receiptsMu sync.Mutex
}

var _ storage.Adapter = (*Store)(nil)

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Exec(ctx, s.db)
}

// runInTx runs fn with a transaction stored in ctx.
func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, classify, fn)
}

func (s *Store) Backend() string { return s.dialect.name }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect.name, classify(err))
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the pool for migrations and tooling.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateSession(ctx context.Context, session *sessionModels.Session) error {
	query := s.dialect.rebind(`
		INSERT INTO sessions (session_id, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING
	`)
	_, err := s.execer(ctx).ExecContext(ctx, query,
		session.SessionID,
		session.UserID,
		s.dialect.timeArg(domain.Timestamp(session.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", classify(err))
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*sessionModels.Session, error) {
	query := s.dialect.rebind(`SELECT session_id, user_id, created_at FROM sessions WHERE session_id = ?`)
	var session sessionModels.Session
	err := s.execer(ctx).QueryRowContext(ctx, query, sessionID).
		Scan(&session.SessionID, &session.UserID, timeColumn{&session.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", classify(err))
	}
	return &session, nil
}

func (s *Store) ListSessions(ctx context.Context, filter storage.ListFilter) ([]*sessionModels.Session, error) {
	var (
		where []string
		args  []any
	)
	if filter.Query != "" {
		pattern := "%" + escapeLike(filter.Query) + "%"
		where = append(where, fmt.Sprintf(`(session_id %[1]s ? ESCAPE '\' OR user_id %[1]s ? ESCAPE '\')`, s.dialect.likeOp))
		args = append(args, pattern, pattern)
	}
	where, args = s.timeRange(where, args, filter)

	query := "SELECT session_id, user_id, created_at FROM sessions" +
		whereClause(where) +
		" ORDER BY created_at DESC, session_id DESC LIMIT ?"
	args = append(args, storage.NormalizeLimit(filter.Limit))

	rows, err := s.execer(ctx).QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", classify(err))
	}
	defer rows.Close()

	var out []*sessionModels.Session
	for rows.Next() {
		var session sessionModels.Session
		if err := rows.Scan(&session.SessionID, &session.UserID, timeColumn{&session.CreatedAt}); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", classify(err))
	}
	return out, nil
}

func (s *Store) CreateReceiptIfAbsent(ctx context.Context, receipt *paymentModels.Receipt) (*paymentModels.Receipt, bool, error) {
	if s.dialect.serializeWrites {
		s.receiptsMu.Lock()
		defer s.receiptsMu.Unlock()
	}

	var (
		stored   *paymentModels.Receipt
		inserted bool
	)
	err := s.runInTx(ctx, func(ctx context.Context) error {
		query := s.dialect.rebind(`
			INSERT INTO receipts (` + receiptColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (idempotency_key) DO NOTHING
		`)
		res, err := s.execer(ctx).ExecContext(ctx, query,
			receipt.IdempotencyKey,
			receipt.PaymentID,
			receipt.Amount,
			receipt.UserID,
			string(receipt.Status),
			s.dialect.timeArg(domain.Timestamp(receipt.CreatedAt)),
			s.dialect.timeArg(domain.Timestamp(receipt.UpdatedAt)),
		)
		if err != nil {
			return fmt.Errorf("insert receipt: %w", classify(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert receipt rows affected: %w", err)
		}
		inserted = n == 1

		stored, err = s.GetReceipt(ctx, receipt.IdempotencyKey)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, inserted, nil
}

func (s *Store) GetReceipt(ctx context.Context, idempotencyKey string) (*paymentModels.Receipt, error) {
	query := s.dialect.rebind(`SELECT ` + receiptColumns + ` FROM receipts WHERE idempotency_key = ?`)
	receipt, err := scanReceipt(s.execer(ctx).QueryRowContext(ctx, query, idempotencyKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", classify(err))
	}
	return receipt, nil
}

func (s *Store) UpdateReceiptStatus(ctx context.Context, idempotencyKey string, status paymentModels.Status, at time.Time) (*paymentModels.Receipt, error) {
	var updated *paymentModels.Receipt
	err := s.runInTx(ctx, func(ctx context.Context) error {
		query := s.dialect.rebind(`UPDATE receipts SET status = ?, updated_at = ? WHERE idempotency_key = ?`)
		res, err := s.execer(ctx).ExecContext(ctx, query,
			string(status),
			s.dialect.timeArg(domain.Timestamp(at)),
			idempotencyKey,
		)
		if err != nil {
			return fmt.Errorf("update receipt status: %w", classify(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update receipt rows affected: %w", err)
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		updated, err = s.GetReceipt(ctx, idempotencyKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) ListReceiptsByUser(ctx context.Context, userID string, limit int) ([]*paymentModels.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE user_id = ?
		ORDER BY created_at DESC, idempotency_key DESC LIMIT ?`
	return s.queryReceipts(ctx, query, userID, storage.NormalizeLimit(limit))
}

func (s *Store) HasApprovedReceipt(ctx context.Context, userID string) (bool, error) {
	query := s.dialect.rebind(`SELECT EXISTS (SELECT 1 FROM receipts WHERE user_id = ? AND status = ?)`)
	var ok bool
	if err := s.execer(ctx).QueryRowContext(ctx, query, userID, string(paymentModels.StatusApproved)).Scan(&ok); err != nil {
		return false, fmt.Errorf("check approved receipt: %w", classify(err))
	}
	return ok, nil
}

func (s *Store) ListReceipts(ctx context.Context, filter storage.ListFilter) ([]*paymentModels.Receipt, error) {
	var (
		where []string
		args  []any
	)
	if filter.Query != "" {
		pattern := "%" + escapeLike(filter.Query) + "%"
		where = append(where, fmt.Sprintf(
			`(idempotency_key %[1]s ? ESCAPE '\' OR payment_id %[1]s ? ESCAPE '\' OR user_id %[1]s ? ESCAPE '\')`,
			s.dialect.likeOp))
		args = append(args, pattern, pattern, pattern)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	where, args = s.timeRange(where, args, filter)

	query := `SELECT ` + receiptColumns + ` FROM receipts` +
		whereClause(where) +
		` ORDER BY created_at DESC, idempotency_key DESC LIMIT ?`
	args = append(args, storage.NormalizeLimit(filter.Limit))
	return s.queryReceipts(ctx, query, args...)
}

func (s *Store) queryReceipts(ctx context.Context, query string, args ...any) ([]*paymentModels.Receipt, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", classify(err))
	}
	defer rows.Close()

	var out []*paymentModels.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", classify(err))
	}
	return out, nil
}

func (s *Store) timeRange(where []string, args []any, filter storage.ListFilter) ([]string, []any) {
	if !filter.Start.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, s.dialect.timeArg(filter.Start))
	}
	if !filter.End.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, s.dialect.timeArg(filter.End))
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*paymentModels.Receipt, error) {
	var (
		r      paymentModels.Receipt
		status string
	)
	err := row.Scan(
		&r.IdempotencyKey,
		&r.PaymentID,
		&r.Amount,
		&r.UserID,
		&status,
		timeColumn{&r.CreatedAt},
		timeColumn{&r.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	r.Status = paymentModels.Status(status)
	return &r, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

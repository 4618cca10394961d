package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// migrationLockID serializes concurrent Postgres migrators.
const migrationLockID int64 = 7_310_452_019

// Migrate applies the embedded migrations for the store's dialect in filename
// order, recording each in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := migrationNames(s.dialect.migrationsDir)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", classify(err))
	}
	defer conn.Close()

	if s.dialect.name == BackendPostgres {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("acquire migration lock: %w", classify(err))
		}
		defer func() {
			_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
		}()
	}

	if _, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", classify(err))
	}

	for _, name := range names {
		var applied bool
		check := s.dialect.rebind(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = ?)`)
		if err := conn.QueryRowContext(ctx, check, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, classify(err))
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, conn, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, conn *sql.Conn, name string) error {
	raw, err := migrationFiles.ReadFile(path.Join(s.dialect.migrationsDir, name))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, classify(err))
	}
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, classify(err))
		}
	}
	record := s.dialect.rebind(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`)
	if _, err := tx.ExecContext(ctx, record, name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, classify(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, classify(err))
	}
	return nil
}

func migrationNames(dir string) ([]string, error) {
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits a migration file on statement-terminating semicolons.
// Migrations hold plain DDL only, so no quoting rules are needed.
func splitStatements(sqlText string) []string {
	var out []string
	for _, part := range strings.Split(sqlText, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

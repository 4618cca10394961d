// Command pipayctl inspects and maintains a pipay store from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"pipay/internal/platform/config"
	"pipay/internal/storage"
	"pipay/internal/storage/backends"
)

var Version = "dev"

// storeOpener is swapped in tests.
type storeOpener func(ctx context.Context, cfg config.Store) (storage.Adapter, error)

type storeFlags struct {
	backend     string
	databaseURL string
	pgDriver    string
	sqlitePath  string
}

// resolve layers flags over the environment.
func (f storeFlags) resolve() (config.Store, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Store{}, err
	}
	s := cfg.Store
	if f.backend != "" {
		s.Backend = f.backend
	}
	if f.databaseURL != "" {
		s.DatabaseURL = f.databaseURL
	}
	if f.pgDriver != "" {
		s.PGDriver = f.pgDriver
	}
	if f.sqlitePath != "" {
		s.SQLitePath = f.sqlitePath
	}
	return s, nil
}

func main() {
	open := func(ctx context.Context, cfg config.Store) (storage.Adapter, error) {
		return backends.Open(ctx, cfg)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open storeOpener) *cobra.Command {
	var flags storeFlags
	root := &cobra.Command{
		Use:           "pipayctl",
		Short:         "pipay store tooling",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.backend, "backend", "", "store backend (postgres, sqlite, memory); defaults to STORE_BACKEND")
	pf.StringVar(&flags.databaseURL, "database-url", "", "relational DSN; defaults to DATABASE_URL")
	pf.StringVar(&flags.pgDriver, "pg-driver", "", "postgres or pgx; defaults to STORE_PG_DRIVER")
	pf.StringVar(&flags.sqlitePath, "sqlite-path", "", "embedded store file; defaults to SQLITE_PATH")

	root.AddCommand(sessionsCmd(open, &flags))
	root.AddCommand(receiptsCmd(open, &flags))
	root.AddCommand(migrateCmd(&flags))
	return root
}

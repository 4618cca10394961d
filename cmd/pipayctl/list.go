package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"pipay/internal/admin"
	"pipay/internal/storage"
)

type listFlags struct {
	query  string
	status string
	start  string
	end    string
	limit  int
	format string
}

func (f *listFlags) bind(cmd *cobra.Command, withStatus bool) {
	fs := cmd.Flags()
	fs.StringVarP(&f.query, "query", "q", "", "substring match on id fields")
	if withStatus {
		fs.StringVar(&f.status, "status", "", "CREATED, APPROVED or REJECTED")
	}
	fs.StringVar(&f.start, "start", "", "created at or after (RFC 3339 or YYYY-MM-DD)")
	fs.StringVar(&f.end, "end", "", "created before (RFC 3339 or YYYY-MM-DD)")
	fs.IntVarP(&f.limit, "limit", "n", storage.DefaultListLimit, "maximum rows")
	fs.StringVarP(&f.format, "format", "o", "json", "json or csv")
}

// filter goes through the same parser as the admin endpoints.
func (f *listFlags) filter() (storage.ListFilter, error) {
	q := url.Values{}
	q.Set("q", f.query)
	q.Set("status", f.status)
	q.Set("start", f.start)
	q.Set("end", f.end)
	q.Set("limit", strconv.Itoa(f.limit))
	return admin.ParseFilter(q)
}

func (f *listFlags) checkFormat() error {
	switch f.format {
	case "json", "csv":
		return nil
	default:
		return fmt.Errorf("unknown format %q (want json or csv)", f.format)
	}
}

func sessionsCmd(open storeOpener, sf *storeFlags) *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := lf.checkFormat(); err != nil {
				return err
			}
			filter, err := lf.filter()
			if err != nil {
				return err
			}
			svc, closeStore, err := openService(cmd, open, sf)
			if err != nil {
				return err
			}
			defer closeStore()

			sessions, err := svc.ListSessions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if lf.format == "csv" {
				return admin.WriteSessionsCSV(cmd.OutOrStdout(), sessions)
			}
			return writeJSON(cmd.OutOrStdout(), sessions)
		},
	}
	lf.bind(cmd, false)
	return cmd
}

func receiptsCmd(open storeOpener, sf *storeFlags) *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "List receipts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := lf.checkFormat(); err != nil {
				return err
			}
			filter, err := lf.filter()
			if err != nil {
				return err
			}
			svc, closeStore, err := openService(cmd, open, sf)
			if err != nil {
				return err
			}
			defer closeStore()

			receipts, err := svc.ListReceipts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if lf.format == "csv" {
				return admin.WriteReceiptsCSV(cmd.OutOrStdout(), receipts)
			}
			return writeJSON(cmd.OutOrStdout(), receipts)
		},
	}
	lf.bind(cmd, true)
	return cmd
}

func openService(cmd *cobra.Command, open storeOpener, sf *storeFlags) (*admin.Service, func(), error) {
	cfg, err := sf.resolve()
	if err != nil {
		return nil, nil, err
	}
	store, err := open(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return admin.NewService(store), func() { _ = store.Close() }, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mbd888/humancheck/internal/auditlog"
	"github.com/mbd888/humancheck/internal/config"
	"github.com/mbd888/humancheck/internal/logging"
	"github.com/mbd888/humancheck/internal/retry"
)

// reportColumns are printed by `report` in table mode.
var reportColumns = []string{"timestamp", "attemptId", "username", "decision", "riskScore", "reasonSummary"}

type rootOptions struct {
	path     string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Inspect and migrate the humancheck audit store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.path, "path", "",
		"Audit store path (default: LOG_PATH from the environment)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn",
		"Log level: debug, info, warn, error")

	root.AddCommand(newMigrateCmd(opts), newReportCmd(opts))
	return root
}

// open resolves the store path and builds a CSV store logging to stderr.
func (o *rootOptions) open(cmd *cobra.Command) (*auditlog.CSVStore, error) {
	path := o.path
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		path = cfg.LogPath
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), o.logLevel, "text")
	return auditlog.NewCSVStore(path,
		auditlog.WithRetry(retry.DefaultPolicy()),
		auditlog.WithLogger(logger),
	), nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store or add missing columns",
		Long: `Ensure the audit store header carries every current field.

Existing rows are re-read under their original header and rewritten in the
new column order with empty cells for new fields. Columns on disk that are
no longer current are kept after the current ones. Running it again is a
no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := opts.open(cmd)
			if err != nil {
				return err
			}
			m, err := store.EnsureSchema(cmd.Context())
			if err != nil {
				return err
			}
			printMigration(cmd.OutOrStdout(), store.Path(), m)
			return nil
		},
	}
}

func printMigration(w io.Writer, path string, m auditlog.Migration) {
	switch {
	case m.Created:
		fmt.Fprintf(w, "created %s\n", path)
	case !m.Changed():
		fmt.Fprintf(w, "%s is up to date\n", path)
	default:
		fmt.Fprintf(w, "migrated %s: added %d field(s), rewrote %d row(s)\n", path, len(m.Added), m.Rewritten)
		fmt.Fprintf(w, "  added: %s\n", strings.Join(m.Added, ", "))
		if len(m.Preserved) > 0 {
			fmt.Fprintf(w, "  preserved: %s\n", strings.Join(m.Preserved, ", "))
		}
		if m.Degraded > 0 {
			fmt.Fprintf(w, "  degraded rows: %d\n", m.Degraded)
		}
	}
}

type reportOptions struct {
	limit    int
	decision string
	json     bool
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	ro := &reportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print decision counts and recent entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			decision := strings.ToUpper(strings.TrimSpace(ro.decision))
			if decision != "" && decision != "ACCEPTED" && decision != "REJECTED" {
				return fmt.Errorf("--decision must be accepted or rejected, got %q", ro.decision)
			}
			if ro.limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}

			store, err := opts.open(cmd)
			if err != nil {
				return err
			}
			records, err := store.ReadAll(cmd.Context())
			if err != nil {
				return err
			}

			report := auditlog.Report{
				Entries: auditlog.Tail(auditlog.Filter(records, decision), ro.limit),
				Counts:  auditlog.CountDecisions(records),
			}
			if report.Entries == nil {
				report.Entries = []auditlog.Record{}
			}

			if ro.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().IntVar(&ro.limit, "limit", 10, "Number of most recent entries to show (0 for all)")
	cmd.Flags().StringVar(&ro.decision, "decision", "", "Only show accepted or rejected entries")
	cmd.Flags().BoolVar(&ro.json, "json", false, "Output as JSON")
	return cmd
}

func printReport(w io.Writer, r auditlog.Report) error {
	fmt.Fprintf(w, "accepted: %d\nrejected: %d\n", r.Counts.Accepted, r.Counts.Rejected)
	if len(r.Entries) == 0 {
		return nil
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(reportColumns, "\t"))
	for _, rec := range r.Entries {
		cells := make([]string, len(reportColumns))
		for i, col := range reportColumns {
			cells[i] = oneLine(rec[col])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// oneLine keeps embedded newlines and tabs from breaking table rows.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(s)
}

package main

import (
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/eventlog"
	"github.com/getpup/sigledger/es/migrations"
	"github.com/getpup/sigledger/signature"
	"github.com/getpup/sigledger/tracker"
	"github.com/getpup/sigledger/tracker/reconcile"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema to the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbc := a.cfg.Database
			if err := migrations.Apply(cmd.Context(), dbc.Driver, dbc.DSN); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", dbc.Driver)
			return nil
		},
	}
}

func newIngestCmd(a *app) *cobra.Command {
	var (
		source       string
		occurredAt   string
		submissionID string
		fractional   bool
		split        bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <stream> [file|-]",
		Short: "Reconcile a snapshot into a stream",
		Long: `Reads a tab separated scanner snapshot from a file, or stdin when the
file is "-" or omitted, and appends the events it implies to the stream.`,
		Example: `  sigledger ingest J100820 capture.tsv --source pilot-a
  pbpaste | sigledger ingest system:31000142 --fractional`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text, err := readInput(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			snap := reconcile.Snapshot{StreamKey: args[0], Source: source, SubmissionID: submissionID}
			if occurredAt != "" {
				snap.OccurredAt, err = time.Parse(time.RFC3339, occurredAt)
				if err != nil {
					return fmt.Errorf("--occurred-at: %w", err)
				}
			}
			if fractional {
				a.cfg.Reconcile.FractionalPercents = true
			}
			if err := a.openEngine(ctx); err != nil {
				return err
			}

			blocks := []string{text}
			if split {
				blocks = signature.SplitSnapshots(text)
			}
			var results []*reconcile.Result
			for i, block := range blocks {
				s := snap
				if s.SubmissionID != "" && len(blocks) > 1 {
					s.SubmissionID = fmt.Sprintf("%s-%d", snap.SubmissionID, i+1)
				}
				res, err := a.engine.SubmitRaw(ctx, s, block)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return renderResults(cmd.OutOrStdout(), a.output, results)
		},
	}
	cmd.Flags().StringVar(&source, "source", tracker.SourceManual, "who or what produced the snapshot")
	cmd.Flags().StringVar(&occurredAt, "occurred-at", "", "when the snapshot was taken (RFC 3339, default now)")
	cmd.Flags().StringVar(&submissionID, "submission-id", "", "idempotency key (default: content hash)")
	cmd.Flags().BoolVar(&fractional, "fractional", false, "accept decimal scan percents such as 28.6%")
	cmd.Flags().BoolVar(&split, "split", false, "treat blank-line separated blocks as successive snapshots")
	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newCurrentCmd(a *app) *cobra.Command {
	var (
		status  string
		rebuild bool
	)
	cmd := &cobra.Command{
		Use:   "current <stream>",
		Short: "Show the current signatures of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch tracker.Status(status) {
			case "", tracker.StatusActive, tracker.StatusFaded, tracker.StatusResolved:
			default:
				return fmt.Errorf("--status: want active, faded or resolved")
			}
			if err := a.openEngine(ctx); err != nil {
				return err
			}
			current := a.projections.Current
			if rebuild {
				current = a.projections.Rebuild
			}
			p, err := current(ctx, args[0])
			if err != nil {
				return err
			}
			return renderProjection(cmd.OutOrStdout(), a.output, p, status)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show signatures in this status")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "fold the stream from its first event, refreshing the cache")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		from  int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "replay [stream]",
		Short: "List events in global order, for one stream or the whole log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.openLog(ctx); err != nil {
				return err
			}
			seq := a.log.ReplayAll(ctx, from)
			if len(args) == 1 {
				seq = a.log.Replay(ctx, args[0], from)
			}
			events, err := take(seq, limit)
			if err != nil {
				return err
			}
			return renderEvents(cmd.OutOrStdout(), a.output, events)
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "only events with a global sequence after this one")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events (0 for all)")
	return cmd
}

// take collects at most limit events from seq and stops reading once it has
// them. A limit of 0 collects everything.
func take(seq iter.Seq2[es.PersistedEvent, error], limit int) ([]es.PersistedEvent, error) {
	var events []es.PersistedEvent
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		events = append(events, e)
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}

func newAuditCmd(a *app) *cobra.Command {
	var since, until string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List events in the order they were recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			from, err := parseTime(since, time.Time{})
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			to, err := parseTime(until, time.Now().Add(time.Second))
			if err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			if err := a.openLog(ctx); err != nil {
				return err
			}
			events, err := eventlog.Collect(a.log.Audit(ctx, from, to))
			if err != nil {
				return err
			}
			return renderEvents(cmd.OutOrStdout(), a.output, events)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "start of the recorded_at window (RFC 3339, inclusive)")
	cmd.Flags().StringVar(&until, "until", "", "end of the recorded_at window (RFC 3339, exclusive, default now)")
	return cmd
}

func parseTime(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, s)
}

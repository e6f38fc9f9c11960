package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/monitoring"
	"github.com/woonradar/listings-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "read")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Source: source,
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "read")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run health over a time window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "read")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		if since < time.Hour {
			return eris.New("runs stats: --since must be at least 1h")
		}
		snap, err := monitoring.NewCollector(st).Collect(ctx, int(since.Hours()))
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(os.Stdout, snap)

		if alert, _ := cmd.Flags().GetBool("alert"); alert {
			a := monitoring.NewAlerter(cfg.Monitor)
			alerts := a.Evaluate(snap)
			for _, al := range alerts {
				_, _ = fmt.Fprintf(os.Stdout, "ALERT [%s] %s\n", al.Severity, al.Message)
			}
			a.SendAlerts(ctx, alerts)
		}
		return nil
	},
}

func init() {
	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")
	runsStatsCmd.Flags().Bool("alert", false, "evaluate alert thresholds and send to monitoring.webhook_url")
	runsCmd.AddCommand(runsStatsCmd)

	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().String("source", "", "filter by source")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tNEW\tTOTAL\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t---\t-----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		newRows, total := "-", "-"
		if r.Report != nil {
			newRows = fmt.Sprint(r.Report.New)
			total = fmt.Sprint(r.Report.Total)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Source,
			r.Status,
			newRows,
			total,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d (%.1f%%)\n", s.RunsFailed, s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Rows ingested:\t%d\n", s.Ingested)
	_, _ = fmt.Fprintf(w, "Rows skipped:\t%d (%.1f%%)\n", s.Skipped, s.SkipRate*100)
	if s.RetryQueueDepth >= 0 {
		_, _ = fmt.Fprintf(w, "Retry queue:\t%d\n", s.RetryQueueDepth)
	}
	for _, src := range s.Sources() {
		_, _ = fmt.Fprintf(w, "  %s:\tlast complete %s\n", src, s.LastComplete[src].Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

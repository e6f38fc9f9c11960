package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woonradar/listings-cli/internal/fetcher"
	"github.com/woonradar/listings-cli/internal/pipeline"
)

var (
	runSource string
	runInput  string
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich and reconcile one parser export for a source",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Pipeline.Sources().Get(runSource); err != nil {
			return err
		}

		var records []map[string]string
		if fetcher.IsRemote(runInput) {
			f := fetcher.ForURL(runInput,
				fetcher.HTTPOptions{UserAgent: "listings-cli", Timeout: 2 * time.Minute, MaxRetries: 3},
				fetcher.FTPOptions{Timeout: 2 * time.Minute},
			)
			records, err = fetcher.FetchRecords(ctx, f, runInput)
		} else {
			records, err = fetcher.ReadRecords(ctx, runInput)
		}
		if err != nil {
			return eris.Wrap(err, "read input")
		}

		report, err := env.Pipeline.Run(ctx, runSource, records)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run complete",
			zap.String("source", runSource),
			zap.String("run_id", report.RunID),
			zap.Int("new", report.New),
			zap.Int("total", report.Total),
		)

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		fmt.Fprint(os.Stdout, pipeline.FormatReport(report))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runSource, "source", "", "source name, e.g. vesteda (required)")
	runCmd.Flags().StringVar(&runInput, "input", "", "parser export: CSV or XLSX path, or http(s)/ftp URL (required)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run report as JSON")
	_ = runCmd.MarkFlagRequired("source")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

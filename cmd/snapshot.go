package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/pipeline"
	"github.com/woonradar/listings-cli/internal/store"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect and export source snapshots",
}

// -- snapshot show --

var snapshotShowCmd = &cobra.Command{
	Use:   "show <source>",
	Short: "Print a source's snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		active, _ := cmd.Flags().GetBool("active")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore(ctx, "read")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := st.LoadSnapshot(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "snapshot show")
		}
		rows := snap.Rows
		if active {
			rows = pipeline.Active(snap)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No listings found.")
			return nil
		}
		formatListings(os.Stdout, rows)
		return nil
	},
}

// -- snapshot export --

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export snapshots to an XLSX workbook, one sheet per source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out, _ := cmd.Flags().GetString("out")
		sources, _ := cmd.Flags().GetStringSlice("source")

		st, err := openStore(ctx, "read")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snaps, err := loadSnapshots(ctx, st, sources)
		if err != nil {
			return err
		}
		if err := store.ExportXLSX(out, snaps...); err != nil {
			return eris.Wrap(err, "snapshot export")
		}
		fmt.Fprintf(os.Stdout, "wrote %d sheets to %s\n", len(snaps), out)
		return nil
	},
}

// loadSnapshots loads the named sources, or every stored source when
// names is empty.
func loadSnapshots(ctx context.Context, st store.Store, names []string) ([]model.SourceSnapshot, error) {
	if len(names) == 0 {
		var err error
		if names, err = st.ListSources(ctx); err != nil {
			return nil, eris.Wrap(err, "list sources")
		}
	}
	snaps := make([]model.SourceSnapshot, 0, len(names))
	for _, name := range names {
		snap, err := st.LoadSnapshot(ctx, name)
		if err != nil {
			return nil, eris.Wrapf(err, "load %s", name)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// formatListings writes a tabular list of snapshot rows to w.
func formatListings(out io.Writer, rows []model.ListingSnapshotRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ADDRESS\tPRICE\tAREA\tPRICE/M2\tNEIGHBORHOOD\tPREF\tNEW\tSCRAPED")
	_, _ = fmt.Fprintln(w, "-------\t-----\t----\t--------\t------------\t----\t---\t-------")

	for _, r := range rows {
		addr := truncateRunes(r.Address, 40)
		_, _ = fmt.Fprintf(w, "%s\t%.0f\t%.0f\t%.2f\t%s\t%s\t%s\t%s\n",
			addr,
			r.Price,
			r.Area,
			r.PricePerArea,
			model.Deref(r.Neighborhood),
			yesNo(r.InPreference),
			yesNo(r.IsNew),
			r.DateScraped.Format("2006-01-02"),
		)
	}
	_ = w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	snapshotShowCmd.Flags().Bool("active", false, "only the latest active, available row per listing, cheapest first")
	snapshotShowCmd.Flags().Bool("json", false, "print rows as JSON")
	snapshotExportCmd.Flags().String("out", "listings.xlsx", "output workbook path")
	snapshotExportCmd.Flags().StringSlice("source", nil, "sources to export (default all stored sources)")

	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// truncateRunes shortens s to at most n runes, ending in "..." when cut.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

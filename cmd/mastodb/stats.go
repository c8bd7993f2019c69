package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"mastodb/pkg/stats"
	"mastodb/pkg/ui"
)

var statsHTML string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the average fetch time per page of every instance",
	Long: `Print the accumulated fetch time, the stored post count and the average
time per page of every tracked instance. The average assumes full pages of
the configured page size.`,
	Example: `  mastodb stats
  mastodb stats --html fetch-times.html`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsHTML, "html", "", "also write a bar chart to this HTML file")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	raw, err := store.FetchStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read fetch statistics: %w", err)
	}
	if len(raw) == 0 {
		ui.PrintWarning("No instances tracked yet")
		return nil
	}

	computed := stats.Compute(raw, cfg.Fetch.PageSize)
	ui.PrintTable(stats.Headers, stats.Rows(computed))

	totals := stats.Sum(computed)
	ui.PrintInfo("Total", fmt.Sprintf("%s posts from %d instances, %s fetching",
		humanize.Comma(int64(totals.Posts)), totals.Instances, totals.FetchTime.Round(time.Millisecond)))

	if statsHTML != "" {
		if err := stats.WriteChart(statsHTML, computed); err != nil {
			return err
		}
		ui.PrintSuccess("Chart written to " + statsHTML)
	}
	return nil
}

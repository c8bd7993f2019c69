package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"mastodb/internal/ingest"
	"mastodb/pkg/logger"
	"mastodb/pkg/ui"
)

var (
	crawlPageSize  int
	crawlRateLimit int
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Page the public timeline of every tracked instance",
	Long: `Run one pagination loop per tracked instance until each loop stops.

Instances that are still backfilling page towards older posts. Caught-up
instances fetch what was posted since their newest stored post. Rate limits
are honoured using the server's reset time. Failing instances are retried with
exponential backoff and then left for the next run.

Fetch times are written to the store once at the end of the run. If that
write fails they are kept in a checkpoint file and added on the next run.`,
	Example: `  # Crawl with the configured store
  mastodb crawl

  # Crawl into a local SQLite file at 30 requests per minute per instance
  mastodb crawl --store sqlite --sqlite-path posts.db --rate-limit 30`,
	Args: cobra.NoArgs,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	crawlCmd.Flags().IntVar(&crawlPageSize, "page-size", 0, "statuses per request, at most 40 (default from config)")
	crawlCmd.Flags().IntVar(&crawlRateLimit, "rate-limit", -1, "requests per minute per instance, 0 disables (default from config)")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{
		"page-size":  crawlPageSize,
		"rate-limit": crawlRateLimit,
	})
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

	spill, err := newSpill(cfg)
	if err != nil {
		return err
	}

	orch := ingest.New(cfg, newClient(cfg), store,
		ingest.WithLogger(logger.GetLogger()),
		ingest.WithSpill(spill),
	)
	if !quiet {
		ui.PrintInfo("Run", orch.RunID())
	}

	report, err := orch.RunAll(ctx)
	if !quiet && len(report.Results) > 0 {
		ui.PrintTable(summaryHeaders, summaryRows(report))
	}
	if err != nil {
		return fmt.Errorf("crawl aborted: %w", err)
	}

	if len(report.Results) == 0 {
		ui.PrintWarning("No instances tracked yet; run 'mastodb discover' or 'mastodb add' first")
		return nil
	}
	if !quiet {
		ui.PrintSuccess(fmt.Sprintf("Stored %s posts from %d instances in %s",
			humanize.Comma(int64(report.Stored())), len(report.Results),
			report.Elapsed.Round(time.Second)))
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"mastodb/internal/ingest"
	"mastodb/pkg/discovery"
	"mastodb/pkg/filter"
	"mastodb/pkg/logger"
	"mastodb/pkg/models"
	"mastodb/pkg/ui"
)

var discoverToken string

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Register instances listed by instances.social",
	Long: `List instances from the instances.social directory, keep those passing the
instance filter and register every one that is not tracked yet.

Registering an instance fetches its metadata and newest public post, which
becomes the starting point of its backfill. Candidates that do not answer
are reported and skipped.

The directory requires an API token, see ` + discovery.TokenURL + `.`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

var addCmd = &cobra.Command{
	Use:   "add <domain>...",
	Short: "Register instances by domain",
	Long:  `Register the given instances directly, without asking the directory.`,
	Example: `  mastodb add mastodon.social fosstodon.org
  mastodb add https://hachyderm.io/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(addCmd)
	discoverCmd.Flags().StringVar(&discoverToken, "token", "", "instances.social API token (default from config or stored credentials)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{"token": discoverToken})
	if err != nil {
		return err
	}
	token, err := resolveToken(cfg)
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

	log := logger.GetLogger()
	bar := ui.NewProgress(-1, "Probing instances", quiet)
	orch := ingest.New(cfg, newClient(cfg), store,
		ingest.WithLogger(log),
		ingest.WithProgress(bar),
	)

	src := discovery.NewClient(cfg.Discovery, token, cfg.Fetch.UserAgent, log)
	report, err := orch.Discover(ctx, src, filter.NewInstanceFilter(cfg.InstanceFilter, log))
	_ = bar.Finish()
	if !quiet {
		printBootstrapReport(report)
	}
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	candidates := make([]models.Candidate, 0, len(args))
	for _, a := range args {
		if d := normalizeDomain(a); d != "" {
			candidates = append(candidates, models.Candidate{Name: d})
		}
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	bar := ui.NewProgress(len(candidates), "Probing instances", quiet)
	orch := ingest.New(cfg, newClient(cfg), store,
		ingest.WithLogger(logger.GetLogger()),
		ingest.WithProgress(bar),
	)

	report, err := orch.Bootstrap(ctx, candidates)
	_ = bar.Finish()
	if !quiet {
		printBootstrapReport(report)
	}
	if err != nil {
		return fmt.Errorf("registration aborted: %w", err)
	}
	if len(report.Registered) == 0 && len(report.Failed) > 0 {
		return fmt.Errorf("none of %d instances could be registered", len(candidates))
	}
	return nil
}

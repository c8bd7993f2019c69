package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"mastodb/internal/ingest"
	"mastodb/pkg/auth"
	"mastodb/pkg/checkpoint"
	"mastodb/pkg/config"
	"mastodb/pkg/logger"
	"mastodb/pkg/mastodon"
	"mastodb/pkg/storage"
	"mastodb/pkg/ui"
)

// loadConfig resolves the configuration from defaults, file, environment and
// the global flags plus extra, then initializes the global logger.
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := map[string]interface{}{
		"log-level":   logLevel,
		"store":       storeDriver,
		"sqlite-path": sqlitePath,
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.WithField("version", version).Debug("Configuration loaded")
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	store, err := storage.Open(ctx, cfg.Store, logger.GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	return store, nil
}

func newClient(cfg *config.Config) *mastodon.Client {
	return mastodon.NewClient(cfg.Fetch.RequestTimeout, cfg.Fetch.UserAgent, logger.GetLogger())
}

func newSpill(cfg *config.Config) (*checkpoint.Manager, error) {
	spill, err := checkpoint.NewManager(cfg.Checkpoint.Dir, logger.GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare telemetry checkpoint: %w", err)
	}
	return spill, nil
}

var errNoToken = errors.New("no discovery token configured; run 'mastodb auth login' or set " + auth.EnvToken)

// resolveToken returns the discovery token from the configuration, which
// already includes the environment, or from the credential manager.
func resolveToken(cfg *config.Config) (string, error) {
	if cfg.Discovery.Token != "" {
		return cfg.Discovery.Token, nil
	}
	manager, err := auth.NewManager()
	if err != nil {
		return "", fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	token, err := manager.Token()
	if err != nil {
		return "", errNoToken
	}
	return token, nil
}

// normalizeDomain turns user input such as "https://Mastodon.Social/" into a
// bare host name.
func normalizeDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

var summaryHeaders = []string{"Instance", "Stopped", "Phase", "Stored", "Dropped", "Fetch time"}

func summaryRows(report ingest.RunReport) [][]string {
	results := append([]ingest.Result(nil), report.Results...)
	sort.Slice(results, func(i, j int) bool { return results[i].Domain < results[j].Domain })

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Domain,
			string(r.Reason),
			r.Phase.String(),
			humanize.Comma(int64(r.Stored)),
			humanize.Comma(int64(r.Dropped)),
			r.FetchTime.Round(time.Millisecond).String(),
		})
	}
	return rows
}

func printBootstrapReport(report ingest.BootstrapReport) {
	if len(report.Registered) > 0 {
		ui.PrintSuccess(fmt.Sprintf("Registered %d instances: %s",
			len(report.Registered), strings.Join(report.Registered, ", ")))
	}
	if len(report.Skipped) > 0 {
		ui.PrintInfo("Already tracked", strings.Join(report.Skipped, ", "))
	}
	if len(report.Failed) == 0 {
		return
	}

	domains := make([]string, 0, len(report.Failed))
	for d := range report.Failed {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	rows := make([][]string, 0, len(domains))
	for _, d := range domains {
		rows = append(rows, []string{d, report.Failed[d].Error()})
	}
	ui.PrintWarning(fmt.Sprintf("%d candidates could not be registered", len(domains)))
	ui.PrintTable([]string{"Instance", "Reason"}, rows)
}

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"mastodb/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile  string
	logLevel    string
	quiet       bool
	verbose     bool
	storeDriver string
	sqlitePath  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mastodb",
	Short: "Crawl the local public timelines of Mastodon instances into a database",
	Long: `mastodb discovers Mastodon instances, registers them and pages their local
public timelines into PostgreSQL or SQLite.

Each tracked instance is first backfilled from its newest post down to the
oldest one the server still serves. Once caught up, later crawls only fetch
what was posted since the previous run.

Typical workflow:
  mastodb config init       write mastodb.yaml with defaults
  mastodb auth login        store the instances.social API token
  mastodb discover          register instances matching the instance filter
  mastodb crawl             page every tracked instance
  mastodb stats             inspect average fetch time per page`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			logLevel = "error"
		} else if verbose {
			logLevel = "debug"
		}

		if !quiet && cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "show" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./mastodb.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "store driver (postgres, sqlite, memory)")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "database file for the sqlite store")

	rootCmd.SetVersionTemplate(`mastodb {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

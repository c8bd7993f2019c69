package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"mastodb/pkg/ui"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every stored post and tracked instance",
	Long: `Drop all stored posts, instances and fetch times, and remove any pending
telemetry checkpoint. This cannot be undone.

Without --yes the command asks for confirmation and refuses to run when
stdin is not a terminal.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "do not ask for confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	if !resetYes {
		if !term.IsTerminal(int(syscall.Stdin)) {
			return errors.New("refusing to reset without --yes when stdin is not a terminal")
		}
		ui.PrintWarning(fmt.Sprintf("This deletes all data in the %s store.", cfg.Store.Driver))
		fmt.Print("Type 'reset' to continue: ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(answer) != "reset" {
			ui.PrintInfo("Reset", "cancelled")
			return nil
		}
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}

	spill, err := newSpill(cfg)
	if err != nil {
		return err
	}
	if err := spill.Delete(); err != nil {
		return err
	}

	ui.PrintSuccess("Store reset")
	return nil
}

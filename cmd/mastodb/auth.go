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
	"mastodb/pkg/auth"
	"mastodb/pkg/discovery"
	"mastodb/pkg/ui"
)

var authToken string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the instances.social API token",
	Long: `Store the instances.social API token used by 'mastodb discover'.

The token is kept in:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variable ` + auth.EnvToken + ` (read only)

Create a token at ` + discovery.TokenURL + `.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the API token",
	Example: `  # Prompt for the token
  mastodb auth login

  # Pass it directly
  mastodb auth login --token abcd1234`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API token",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the API token comes from",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authLoginCmd.Flags().StringVar(&authToken, "token", "", "API token to store")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	token := authToken
	if token == "" {
		fmt.Print("API token: ")
		if token, err = readSecret(); err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	}

	if err := manager.Store(&auth.Credential{Name: auth.DefaultName, Token: token}); err != nil {
		return err
	}
	backend, _ := manager.Locate(auth.DefaultName)
	ui.PrintSuccess("Token stored in " + backend)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(auth.DefaultName); err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintWarning("No stored token")
			return nil
		}
		return err
	}
	ui.PrintSuccess("Token removed")
	if os.Getenv(auth.EnvToken) != "" {
		ui.PrintWarning(auth.EnvToken + " is still set in the environment")
	}
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	cred, err := manager.Retrieve(auth.DefaultName)
	if err != nil {
		ui.PrintWarning("No token configured")
		fmt.Printf("\nCreate one at %s and run:\n  mastodb auth login\n", discovery.TokenURL)
		return nil
	}
	backend, _ := manager.Locate(auth.DefaultName)
	ui.PrintInfo("Token", auth.MaskToken(cred.Token))
	ui.PrintInfo("Source", backend)
	if !cred.LastModified.IsZero() {
		ui.PrintInfo("Stored", cred.LastModified.Format("2006-01-02 15:04"))
	}
	return nil
}

// readSecret reads a line from stdin without echo when stdin is a terminal.
func readSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

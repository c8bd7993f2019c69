package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"mastodb/pkg/auth"
	"mastodb/pkg/config"
	"mastodb/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
	Long: `Create, show and validate the YAML configuration.

Values are resolved in this order, highest first:
  1. Command line flags
  2. Environment variables (MASTODB_*)
  3. .env file in the working directory
  4. Configuration file (default ` + config.DefaultFileName + `)
  5. Built-in defaults`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	return config.DefaultFileName
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath()
	created, err := config.EnsureFile(path)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("configuration file already exists: %s", path)
	}
	ui.PrintSuccess("Configuration written to " + path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	shown := *cfg
	shown.Discovery.Token = auth.MaskToken(shown.Discovery.Token)
	if shown.Store.Password != "" {
		shown.Store.Password = "***"
	}

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	ui.PrintHighlight("Effective configuration (" + configPath() + ")")
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(nil); err != nil {
		return err
	}
	ui.PrintSuccess("Configuration is valid")
	return nil
}

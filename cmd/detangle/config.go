package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fef5002/clouds-detangler/pkg/detangle/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage detangle configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/detangle/config.yaml (if set)
  2. ~/.config/detangle/config.yaml

Environment variables can override config file settings using the
DETANGLE_ prefix:
  DETANGLE_POLICY_SELECTION_RULE=keep-newest
  DETANGLE_GATHER_WORKERS=8`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings from all sources.`,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFrom(cfgFile)
	if err != nil {
		return err
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	if len(cfg.Remotes) == 0 {
		fmt.Println("remotes:                  (none configured)")
	}
	for i, r := range cfg.Remotes {
		fmt.Printf("remotes[%d]:               %s (%s: %s)", i, r.ID, r.Type, r.Root)
		if len(r.Exclude) > 0 {
			fmt.Printf(" excluding %s", strings.Join(r.Exclude, ", "))
		}
		fmt.Println()
	}
	fmt.Printf("policy.selection_rule:    %s\n", cfg.Policy.SelectionRule)
	fmt.Printf("policy.mode:              %s\n", cfg.Policy.Mode)
	fmt.Printf("gather.workers:           %d\n", cfg.Gather.Workers)
	fmt.Printf("gather.timeout:           %s\n", cfg.Gather.Timeout)
	fmt.Printf("gather.max_retries:       %d\n", cfg.Gather.MaxRetries)
	fmt.Printf("gather.retry_backoff:     %s\n", cfg.Gather.RetryBackoff)
	fmt.Printf("execute.precheck_retries: %d\n", cfg.Execute.PrecheckRetries)
	fmt.Printf("execute.retry_backoff:    %s\n", cfg.Execute.RetryBackoff)
	fmt.Printf("logging.level:            %s\n", cfg.Logging.Level)

	fmt.Println("\nData locations:")
	fmt.Println("---------------")
	fmt.Printf("manifests:   %s\n", config.ManifestStorePath())
	fmt.Printf("index:       %s\n", config.IndexPath())
	fmt.Printf("plans:       %s\n", config.PlanDir())
	fmt.Printf("custody log: %s\n", config.CustodyLogPath())

	return nil
}

// runConfigInit creates a default configuration file.
func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.WriteDefault(); err != nil {
		return err
	}

	configDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	printInfo("configuration file: %s", filepath.Join(configDir, "config.yaml"))
	printInfo("edit it to add your remotes, then run 'detangle gather'")
	return nil
}

// runConfigPath shows the configuration file path.
func runConfigPath(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		fmt.Println(cfgFile)
		return nil
	}

	configDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	fmt.Println(filepath.Join(configDir, "config.yaml"))
	return nil
}

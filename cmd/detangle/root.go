package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fef5002/clouds-detangler/pkg/detangle/config"
	"github.com/fef5002/clouds-detangler/pkg/detangle/logging"
	"github.com/fef5002/clouds-detangler/pkg/detangle/output"
	"github.com/fef5002/clouds-detangler/pkg/detangle/remote"
	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// errPartial marks a run that finished with some failed units of work.
// main maps it to exit code 1; every other error is fatal (exit 2).
var errPartial = errors.New("completed with failures")

var (
	cfgFile    string
	formatName string

	rootCmd = &cobra.Command{
		Use:   "detangle",
		Short: "Untangle duplicate files scattered across cloud remotes",
		Long: `Detangle finds files duplicated across cloud storage remotes and
helps you reclaim the wasted space, without ever touching a byte you
have not reviewed.

The pipeline runs in explicit stages, each producing an inspectable
artifact:

  detangle gather                 # capture a manifest from every remote
  detangle build-index            # merge manifests into a dedup index
  detangle plan                   # turn the index into an action plan
  detangle approve <plan> --all   # mark reviewed actions approved
  detangle execute <plan>         # carry out approved actions

Nothing is moved or deleted until a plan action has been explicitly
approved, and every executed action is recorded in a tamper-evident
chain-of-custody log (see 'detangle log').`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/detangle/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&formatName, "format", "f", "pretty", "output format (pretty, plain, json)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads and validates the run configuration and brings the
// logging system up from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging initializes file logging per the config. Verbose mode
// additionally mirrors debug output to stderr.
func setupLogging(cfg *config.Config) error {
	maxSize, err := types.ParseSize(cfg.Logging.Rotation.MaxSize)
	if err != nil {
		return fmt.Errorf("invalid logging.rotation.max_size: %w", err)
	}

	logCfg := logging.Config{
		Level: cfg.Logging.Level,
		Path:  cfg.Logging.Path,
		Rotation: logging.RotationConfig{
			MaxSize:    maxSize,
			MaxAge:     cfg.Logging.Rotation.MaxAge,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			Daily:      cfg.Logging.Rotation.Daily,
		},
		Components: cfg.Logging.Components,
	}
	if getVerbose() {
		logCfg.Level = "debug"
		logCfg.ConsoleLevel = "debug"
	}

	return logging.Init(logCfg)
}

// buildRemotes constructs the configured backends, keyed by id.
func buildRemotes(cfg *config.Config) (map[string]remote.Remote, error) {
	remotes := make(map[string]remote.Remote, len(cfg.Remotes))
	for _, rc := range cfg.Remotes {
		switch rc.Type {
		case "localdir":
			r, err := remote.NewLocalDir(rc.ID, rc.Root, rc.Exclude)
			if err != nil {
				return nil, fmt.Errorf("remote %s: %w", rc.ID, err)
			}
			remotes[rc.ID] = r
		default:
			return nil, fmt.Errorf("remote %s: unknown type %q", rc.ID, rc.Type)
		}
	}
	return remotes, nil
}

// orderedRemotes returns the backends in configured priority order.
func orderedRemotes(cfg *config.Config, remotes map[string]remote.Remote) []remote.Remote {
	out := make([]remote.Remote, 0, len(remotes))
	for _, id := range cfg.RemoteOrder() {
		out = append(out, remotes[id])
	}
	return out
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// renderIndex formats an index with the selected formatter and writes
// it to stdout.
func renderIndex(idx *types.DedupIndex) error {
	f, err := output.Get(formatName)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, output.BuildReport(idx)); err != nil {
		return err
	}
	_, err = os.Stdout.Write(buf.Bytes())
	return err
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printInfo prints a message unless quiet mode is enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

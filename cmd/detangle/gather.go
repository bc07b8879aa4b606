package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fef5002/clouds-detangler/pkg/detangle/collector"
	"github.com/fef5002/clouds-detangler/pkg/detangle/config"
	"github.com/fef5002/clouds-detangler/pkg/detangle/manifest"
	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

var gatherCmd = &cobra.Command{
	Use:   "gather",
	Short: "Capture a fresh manifest from every configured remote",
	Long: `Gather lists every configured remote and stores one immutable
manifest per remote in the manifest store. Manifests from earlier runs
are kept as history.

A remote that fails to list does not abort the run: manifests from the
remotes that succeeded are still stored, and the command exits with
code 1 to signal the partial result.`,
	RunE: runGather,
}

var (
	gatherScope string
	gatherList  bool
)

func init() {
	gatherCmd.Flags().StringVar(&gatherScope, "scope", "", "restrict listing to a path prefix")
	gatherCmd.Flags().BoolVar(&gatherList, "list", false, "list stored manifests instead of gathering")
	rootCmd.AddCommand(gatherCmd)
}

func runGather(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if gatherList {
		return listManifests()
	}
	if len(cfg.Remotes) == 0 {
		return fmt.Errorf("no remotes configured; run 'detangle config init' and edit the config file")
	}

	remotes, err := buildRemotes(cfg)
	if err != nil {
		return err
	}

	if err := config.EnsureDataDir(); err != nil {
		return err
	}
	store, err := manifest.OpenStore(config.ManifestStorePath())
	if err != nil {
		return fmt.Errorf("opening manifest store: %w", err)
	}
	defer store.Close()

	scope := cfg.Gather.Scope
	if gatherScope != "" {
		scope = gatherScope
	}

	coll := collector.New(store, collector.Options{
		Workers:       cfg.Gather.Workers,
		Timeout:       cfg.Gather.Timeout,
		MaxRetries:    cfg.Gather.MaxRetries,
		RetryBackoff:  cfg.Gather.RetryBackoff,
		Scope:         scope,
		HoldingPrefix: cfg.HoldingPrefix,
	})

	ctx, stop := signalContext()
	defer stop()

	results := coll.Collect(ctx, orderedRemotes(cfg, remotes))

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			printError("%s: %v", res.RemoteID, res.Err)
			continue
		}
		printInfo("%s: %d files, %s (manifest %s)",
			res.RemoteID,
			res.Manifest.FileCount(),
			types.FormatSize(res.Manifest.TotalBytes()),
			res.Manifest.Key())
		for _, w := range res.Warnings {
			printInfo("  warning: %s (%d records dropped)", w.Reason, len(w.Records))
		}
	}

	if failed == len(results) {
		return fmt.Errorf("all %d remotes failed", failed)
	}
	if collector.Partial(results) {
		return fmt.Errorf("%w: %d of %d remotes failed", errPartial, failed, len(results))
	}
	return nil
}

func listManifests() error {
	store, err := manifest.OpenStore(config.ManifestStorePath())
	if err != nil {
		return fmt.Errorf("opening manifest store: %w", err)
	}
	defer store.Close()

	keys, err := store.List("")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		printInfo("no manifests stored")
		return nil
	}
	for _, key := range keys {
		m, err := store.Get(key)
		if err != nil {
			return err
		}
		printInfo("%s  %d files, %s", key, m.FileCount(), types.FormatSize(m.TotalBytes()))
	}
	return nil
}

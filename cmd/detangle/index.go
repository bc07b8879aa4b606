package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fef5002/clouds-detangler/pkg/detangle/config"
	"github.com/fef5002/clouds-detangler/pkg/detangle/index"
	"github.com/fef5002/clouds-detangler/pkg/detangle/manifest"
	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

var buildIndexCmd = &cobra.Command{
	Use:     "build-index",
	Aliases: []string{"index"},
	Short:   "Merge the latest manifests into a dedup index",
	Long: `Build-index merges one manifest per remote into a deterministic
dedup index: files sharing a content hash (under the same algorithm)
form duplicate groups, with the reclaimable waste attributed to every
copy beyond the one to keep.

By default the newest stored manifest of each remote is used. Specific
manifests can be pinned with --manifest (repeatable, "remote@time" keys
as printed by gather). Rebuilding from the same manifests produces a
byte-identical index with the same generation id.`,
	RunE: runBuildIndex,
}

var (
	indexOutput    string
	indexManifests []string
)

func init() {
	buildIndexCmd.Flags().StringVarP(&indexOutput, "output", "o", "", "index artifact path (default: data dir)")
	buildIndexCmd.Flags().StringArrayVar(&indexManifests, "manifest", nil, "manifest key to use instead of the latest (repeatable)")
	rootCmd.AddCommand(buildIndexCmd)
}

func runBuildIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := manifest.OpenStore(config.ManifestStorePath())
	if err != nil {
		return fmt.Errorf("opening manifest store: %w", err)
	}
	defer store.Close()

	var manifests []*types.RemoteManifest
	if len(indexManifests) > 0 {
		for _, key := range indexManifests {
			m, err := store.Get(key)
			if err != nil {
				return fmt.Errorf("manifest %s: %w", key, err)
			}
			manifests = append(manifests, m)
		}
	} else {
		manifests, err = store.LatestSet()
		if err != nil {
			return err
		}
	}
	if len(manifests) == 0 {
		return fmt.Errorf("no manifests stored; run 'detangle gather' first")
	}

	idx, err := index.NewBuilder(cfg.RemoteOrder()).Build(manifests)
	if err != nil {
		return err
	}

	out := indexOutput
	if out == "" {
		if err := config.EnsureDataDir(); err != nil {
			return err
		}
		out = config.IndexPath()
	}
	if err := index.Save(idx, out); err != nil {
		return err
	}

	if err := renderIndex(idx); err != nil {
		return err
	}
	printInfo("index written to %s", out)
	return nil
}

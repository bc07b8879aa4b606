package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// Save writes the index artifact to path. The serialization is
// canonical: the same index always produces the same bytes, so
// repeated builds from identical manifests are byte-identical on disk.
func Save(idx *types.DedupIndex, path string) error {
	data, err := Marshal(idx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	// Write atomically using a temp file and rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming index: %w", err)
	}

	return nil
}

// Marshal returns the canonical serialized form of the index.
func Marshal(idx *types.DedupIndex) ([]byte, error) {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding index: %w", err)
	}
	return append(data, '\n'), nil
}

// Load reads an index artifact from path.
func Load(path string) (*types.DedupIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	var idx types.DedupIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return &idx, nil
}

// Package manifest handles the ingestion boundary and persistence for
// remote snapshots. Records arriving from a backend listing are
// validated against an explicit schema before they become part of a
// manifest; malformed records are reported as integrity warnings and
// dropped rather than silently accepted.
package manifest

import (
	"fmt"
	"sort"
	"time"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// Build validates raw listing records and assembles an immutable
// manifest for one remote at one capture time. Directory entries and
// hashless records are kept in the manifest (they are real listing
// output) but never participate in grouping. Records violating the
// schema are excluded and reported.
func Build(remoteID string, capturedAt time.Time, records []types.FileRecord) (*types.RemoteManifest, []types.IntegrityWarning, error) {
	if remoteID == "" {
		return nil, nil, fmt.Errorf("remote id cannot be empty")
	}

	var warnings []types.IntegrityWarning
	seen := make(map[string]bool, len(records))
	clean := make([]types.FileRecord, 0, len(records))

	for _, r := range records {
		if reason := validate(remoteID, r); reason != "" {
			warnings = append(warnings, types.IntegrityWarning{
				HashAlg: r.HashAlg,
				Hash:    r.Hash,
				Reason:  reason,
				Records: []types.FileRecord{r},
			})
			continue
		}
		if seen[r.Path] {
			warnings = append(warnings, types.IntegrityWarning{
				HashAlg: r.HashAlg,
				Hash:    r.Hash,
				Reason:  fmt.Sprintf("duplicate path within listing: %s", r.Path),
				Records: []types.FileRecord{r},
			})
			continue
		}
		seen[r.Path] = true

		r.RemoteID = remoteID
		r.ModTime = r.ModTime.UTC()
		clean = append(clean, r)
	}

	sort.Slice(clean, func(i, j int) bool {
		return clean[i].Path < clean[j].Path
	})

	return &types.RemoteManifest{
		RemoteID:   remoteID,
		CapturedAt: capturedAt.UTC(),
		Records:    clean,
	}, warnings, nil
}

// validate returns a non-empty reason when a record violates the
// manifest schema.
func validate(remoteID string, r types.FileRecord) string {
	switch {
	case r.Path == "":
		return "record has empty path"
	case r.SizeBytes < 0:
		return fmt.Sprintf("record has negative size: %s", r.Path)
	case r.RemoteID != "" && r.RemoteID != remoteID:
		return fmt.Sprintf("record claims foreign remote %q: %s", r.RemoteID, r.Path)
	case r.Hash != "" && r.HashAlg == "":
		return fmt.Sprintf("record has untagged hash: %s", r.Path)
	default:
		return ""
	}
}

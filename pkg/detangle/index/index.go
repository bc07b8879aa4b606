// Package index builds the cross-remote duplicate index. The build is
// pure and deterministic: given identical manifests it produces a
// byte-identical serialized index, which is what lets plans bind to an
// exact generation.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fef5002/clouds-detangler/pkg/detangle/logging"
	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// Builder merges manifests into duplicate groups under a configured
// remote priority order.
type Builder struct {
	// priority maps remote ids to their configured rank; lower ranks
	// are preferred keep candidates. Remotes missing from the map sort
	// after all configured ones, by id.
	priority map[string]int
	log      *logging.Logger
}

// NewBuilder creates a builder with the given remote priority order.
// The slice order is the rank: earlier remotes win ties.
func NewBuilder(remoteOrder []string) *Builder {
	priority := make(map[string]int, len(remoteOrder))
	for i, id := range remoteOrder {
		priority[id] = i
	}
	return &Builder{
		priority: priority,
		log:      logging.Get("index"),
	}
}

// Build merges the manifests into a DedupIndex. At most one manifest
// per remote is accepted; a record set that pairs an identical hash
// with differing sizes is excluded and flagged, never merged.
func (b *Builder) Build(manifests []*types.RemoteManifest) (*types.DedupIndex, error) {
	seen := make(map[string]bool, len(manifests))
	for _, m := range manifests {
		if seen[m.RemoteID] {
			return nil, fmt.Errorf("duplicate manifest for remote %s", m.RemoteID)
		}
		seen[m.RemoteID] = true
	}

	// Sort the input set by manifest key so the generation id and all
	// downstream ordering are independent of argument order.
	sorted := make([]*types.RemoteManifest, len(manifests))
	copy(sorted, manifests)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key() < sorted[j].Key()
	})

	generationID, err := generationID(sorted)
	if err != nil {
		return nil, fmt.Errorf("computing generation id: %w", err)
	}

	type hashKey struct {
		alg  types.HashAlg
		hash string
	}
	candidates := make(map[hashKey][]types.FileRecord)
	for _, m := range sorted {
		for _, r := range m.Records {
			if r.IsDir || r.Hash == "" || r.HashAlg == "" {
				continue
			}
			k := hashKey{alg: r.HashAlg, hash: r.Hash}
			candidates[k] = append(candidates[k], r)
		}
	}

	idx := &types.DedupIndex{
		GenerationID: generationID,
		Manifests:    make([]string, 0, len(sorted)),
	}
	for _, m := range sorted {
		idx.Manifests = append(idx.Manifests, m.Key())
	}

	keys := make([]hashKey, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].alg != keys[j].alg {
			return keys[i].alg < keys[j].alg
		}
		return keys[i].hash < keys[j].hash
	})

	wastePerRemote := make(map[string]*types.RemoteWaste)

	for _, k := range keys {
		members := candidates[k]
		if len(members) < 2 {
			continue
		}

		if mismatch := sizeMismatch(members); mismatch {
			b.log.Warn("hash collision across differing sizes, excluding records",
				"algorithm", k.alg, "hash", k.hash, "records", len(members))
			idx.Warnings = append(idx.Warnings, types.IntegrityWarning{
				HashAlg: k.alg,
				Hash:    k.hash,
				Reason:  "identical hash with differing sizes",
				Records: sortMembers(members, b.priority),
			})
			continue
		}

		group := types.DuplicateGroup{
			GroupID:   groupID(k.alg, k.hash),
			HashAlg:   k.alg,
			Hash:      k.hash,
			SizeBytes: members[0].SizeBytes,
			Members:   sortMembers(members, b.priority),
		}
		idx.Groups = append(idx.Groups, group)
		idx.TotalWasteBytes += group.Waste()

		// Every copy beyond the canonical first is waste charged to
		// the remote holding it.
		for _, m := range group.Members[1:] {
			w, ok := wastePerRemote[m.RemoteID]
			if !ok {
				w = &types.RemoteWaste{RemoteID: m.RemoteID}
				wastePerRemote[m.RemoteID] = w
			}
			w.Files++
			w.WasteBytes += group.SizeBytes
		}
	}

	remoteIDs := make([]string, 0, len(wastePerRemote))
	for id := range wastePerRemote {
		remoteIDs = append(remoteIDs, id)
	}
	sort.Strings(remoteIDs)
	for _, id := range remoteIDs {
		idx.RemoteWaste = append(idx.RemoteWaste, *wastePerRemote[id])
	}

	b.log.Info("index built",
		"generation", idx.GenerationID,
		"manifests", len(idx.Manifests),
		"groups", len(idx.Groups),
		"waste", types.FormatSize(idx.TotalWasteBytes))

	return idx, nil
}

// sizeMismatch reports whether records sharing a hash disagree on size.
func sizeMismatch(members []types.FileRecord) bool {
	for _, m := range members[1:] {
		if m.SizeBytes != members[0].SizeBytes {
			return true
		}
	}
	return false
}

// sortMembers returns the members in canonical order: remote priority
// rank, then modification time descending, then path, then remote id.
// The input is not modified.
func sortMembers(members []types.FileRecord, priority map[string]int) []types.FileRecord {
	out := make([]types.FileRecord, len(members))
	copy(out, members)

	rank := func(id string) int {
		if r, ok := priority[id]; ok {
			return r
		}
		return len(priority)
	}

	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i].RemoteID), rank(out[j].RemoteID)
		if ri != rj {
			return ri < rj
		}
		if ri == len(priority) && out[i].RemoteID != out[j].RemoteID {
			// Unconfigured remotes tie on rank; break by id.
			return out[i].RemoteID < out[j].RemoteID
		}
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].RemoteID < out[j].RemoteID
	})

	return out
}

// groupID derives a stable group id from the (algorithm, hash) pair.
func groupID(alg types.HashAlg, hash string) string {
	sum := sha256.Sum256([]byte(string(alg) + ":" + hash))
	return "g-" + hex.EncodeToString(sum[:])[:12]
}

// generationID hashes the exact input manifest set: the sorted keys
// and the canonical encoding of every record. Identical inputs yield
// identical generation ids across runs.
func generationID(sorted []*types.RemoteManifest) (string, error) {
	h := sha256.New()
	for _, m := range sorted {
		h.Write([]byte(m.Key()))
		h.Write([]byte{0})
		data, err := json.Marshal(m.Records)
		if err != nil {
			return "", err
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

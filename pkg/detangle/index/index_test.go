package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

var captured = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mkManifest(remoteID string, records ...types.FileRecord) *types.RemoteManifest {
	for i := range records {
		records[i].RemoteID = remoteID
	}
	return &types.RemoteManifest{
		RemoteID:   remoteID,
		CapturedAt: captured,
		Records:    records,
	}
}

func mkRecord(path, hash string, size int64, mod time.Time) types.FileRecord {
	return types.FileRecord{
		Path:      path,
		SizeBytes: size,
		HashAlg:   types.HashSHA256,
		Hash:      hash,
		ModTime:   mod,
	}
}

func TestBuildFindsCrossRemoteDuplicates(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gdrive := mkManifest("gdrive",
		mkRecord("photos/cat.jpg", "h1", 100, mod),
		mkRecord("docs/unique.txt", "h2", 50, mod),
	)
	onedrive := mkManifest("onedrive",
		mkRecord("backup/cat.jpg", "h1", 100, mod),
	)

	idx, err := NewBuilder([]string{"gdrive", "onedrive"}).Build([]*types.RemoteManifest{gdrive, onedrive})
	require.NoError(t, err)

	require.Len(t, idx.Groups, 1)
	g := idx.Groups[0]
	assert.Equal(t, "h1", g.Hash)
	assert.Equal(t, int64(100), g.SizeBytes)
	require.Len(t, g.Members, 2)
	assert.Equal(t, "gdrive", g.Members[0].RemoteID)
	assert.Equal(t, "onedrive", g.Members[1].RemoteID)

	assert.Equal(t, int64(100), idx.TotalWasteBytes)
	require.Len(t, idx.RemoteWaste, 1)
	assert.Equal(t, "onedrive", idx.RemoteWaste[0].RemoteID)
	assert.Equal(t, int64(100), idx.RemoteWaste[0].WasteBytes)
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mkManifest("a", mkRecord("x", "h1", 10, mod), mkRecord("y", "h2", 20, mod))
	b := mkManifest("b", mkRecord("z", "h1", 10, mod), mkRecord("w", "h2", 20, mod))

	builder := NewBuilder([]string{"a", "b"})
	idx1, err := builder.Build([]*types.RemoteManifest{a, b})
	require.NoError(t, err)
	// Argument order must not matter.
	idx2, err := builder.Build([]*types.RemoteManifest{b, a})
	require.NoError(t, err)

	data1, err := Marshal(idx1)
	require.NoError(t, err)
	data2, err := Marshal(idx2)
	require.NoError(t, err)

	assert.Equal(t, idx1.GenerationID, idx2.GenerationID)
	assert.Equal(t, data1, data2)
}

func TestBuildGenerationChangesWithInput(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	builder := NewBuilder([]string{"a"})

	idx1, err := builder.Build([]*types.RemoteManifest{
		mkManifest("a", mkRecord("x", "h1", 10, mod)),
	})
	require.NoError(t, err)

	idx2, err := builder.Build([]*types.RemoteManifest{
		mkManifest("a", mkRecord("x", "h1", 11, mod)),
	})
	require.NoError(t, err)

	assert.NotEqual(t, idx1.GenerationID, idx2.GenerationID)
}

func TestBuildRejectsDuplicateRemote(t *testing.T) {
	t.Parallel()

	m1 := mkManifest("a")
	m2 := mkManifest("a")
	_, err := NewBuilder(nil).Build([]*types.RemoteManifest{m1, m2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate manifest")
}

func TestBuildSizeMismatchExcluded(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mkManifest("a", mkRecord("x", "h1", 10, mod))
	b := mkManifest("b", mkRecord("y", "h1", 99, mod))

	idx, err := NewBuilder([]string{"a", "b"}).Build([]*types.RemoteManifest{a, b})
	require.NoError(t, err)

	assert.Empty(t, idx.Groups)
	assert.Zero(t, idx.TotalWasteBytes)
	require.Len(t, idx.Warnings, 1)
	assert.Contains(t, idx.Warnings[0].Reason, "differing sizes")
	assert.Len(t, idx.Warnings[0].Records, 2)
}

func TestBuildNeverComparesAcrossAlgorithms(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mkManifest("a", types.FileRecord{
		Path: "x", SizeBytes: 10, HashAlg: types.HashSHA256, Hash: "same", ModTime: mod,
	})
	b := mkManifest("b", types.FileRecord{
		Path: "y", SizeBytes: 10, HashAlg: types.HashMD5, Hash: "same", ModTime: mod,
	})

	idx, err := NewBuilder([]string{"a", "b"}).Build([]*types.RemoteManifest{a, b})
	require.NoError(t, err)

	// Same digest under different algorithms is not a duplicate.
	assert.Empty(t, idx.Groups)
	assert.Empty(t, idx.Warnings)
}

func TestBuildSkipsDirsAndHashless(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mkManifest("a",
		types.FileRecord{Path: "dir", IsDir: true},
		types.FileRecord{Path: "pending", SizeBytes: 10},
		mkRecord("real", "h1", 10, mod),
	)
	b := mkManifest("b", mkRecord("copy", "h1", 10, mod))

	idx, err := NewBuilder([]string{"a", "b"}).Build([]*types.RemoteManifest{a, b})
	require.NoError(t, err)

	require.Len(t, idx.Groups, 1)
	assert.Len(t, idx.Groups[0].Members, 2)
}

func TestMemberOrderPriorityThenModTime(t *testing.T) {
	t.Parallel()

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	a := mkManifest("a",
		mkRecord("a-old", "h1", 10, older),
		mkRecord("a-new", "h1", 10, newer),
	)
	b := mkManifest("b", mkRecord("b-newest", "h1", 10, newer.Add(time.Hour)))

	// b outranks a in configured order, so b's copy leads despite any
	// modification times; within a, newer precedes older.
	idx, err := NewBuilder([]string{"b", "a"}).Build([]*types.RemoteManifest{a, b})
	require.NoError(t, err)

	require.Len(t, idx.Groups, 1)
	members := idx.Groups[0].Members
	require.Len(t, members, 3)
	assert.Equal(t, "b-newest", members[0].Path)
	assert.Equal(t, "a-new", members[1].Path)
	assert.Equal(t, "a-old", members[2].Path)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mkManifest("a", mkRecord("x", "h1", 10, mod))
	b := mkManifest("b", mkRecord("y", "h1", 10, mod))

	idx, err := NewBuilder([]string{"a", "b"}).Build([]*types.RemoteManifest{a, b})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, Save(idx, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, idx.GenerationID, got.GenerationID)
	assert.Equal(t, idx.TotalWasteBytes, got.TotalWasteBytes)
	require.Len(t, got.Groups, 1)
	assert.Equal(t, idx.Groups[0].GroupID, got.Groups[0].GroupID)
}

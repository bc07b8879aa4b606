package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, content, 0o644))
}

func sha(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func TestNewLocalDirValidation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := NewLocalDir("", dir, nil)
	require.Error(t, err)

	_, err = NewLocalDir("a", filepath.Join(dir, "missing"), nil)
	require.ErrorIs(t, err, ErrNotFound)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewLocalDir("a", file, nil)
	require.Error(t, err)

	r, err := NewLocalDir("a", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", r.ID())
}

func TestLocalDirList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "b.txt", []byte("bbb"))
	writeFile(t, dir, "docs/a.txt", []byte("aaa"))

	r, err := NewLocalDir("gdrive", dir, nil)
	require.NoError(t, err)

	records, err := r.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Sorted by slash path, remote-relative.
	assert.Equal(t, "b.txt", records[0].Path)
	assert.Equal(t, "docs/a.txt", records[1].Path)
	assert.Equal(t, sha([]byte("bbb")), records[0].Hash)
	assert.Equal(t, types.HashSHA256, records[0].HashAlg)
	assert.Equal(t, int64(3), records[0].SizeBytes)
	for _, rec := range records {
		assert.Equal(t, "gdrive", rec.RemoteID)
	}
}

func TestLocalDirListScope(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "out.txt", []byte("x"))
	writeFile(t, dir, "photos/in.jpg", []byte("y"))

	r, err := NewLocalDir("gdrive", dir, nil)
	require.NoError(t, err)

	records, err := r.List(context.Background(), "photos")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "photos/in.jpg", records[0].Path)
}

func TestLocalDirListExcludes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", []byte("x"))
	writeFile(t, dir, "junk.tmp", []byte("y"))
	writeFile(t, dir, "node_modules/dep.js", []byte("z"))

	r, err := NewLocalDir("gdrive", dir, []string{"*.tmp", "node_modules"})
	require.NoError(t, err)

	records, err := r.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "keep.txt", records[0].Path)
}

func TestLocalDirStat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := []byte("hello world")
	writeFile(t, dir, "docs/x.txt", content)

	r, err := NewLocalDir("gdrive", dir, nil)
	require.NoError(t, err)

	rec, err := r.Stat(context.Background(), "docs/x.txt")
	require.NoError(t, err)
	assert.Equal(t, sha(content), rec.Hash)
	assert.Equal(t, int64(len(content)), rec.SizeBytes)
	assert.False(t, rec.IsDir)

	dirRec, err := r.Stat(context.Background(), "docs")
	require.NoError(t, err)
	assert.True(t, dirRec.IsDir)

	_, err = r.Stat(context.Background(), "missing.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalDirMove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "src.txt", []byte("payload"))

	r, err := NewLocalDir("gdrive", dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Move(ctx, "src.txt", ".detangle/holding/p1/src.txt"))

	_, err = r.Stat(ctx, "src.txt")
	require.ErrorIs(t, err, ErrNotFound)

	moved, err := r.Stat(ctx, ".detangle/holding/p1/src.txt")
	require.NoError(t, err)
	assert.Equal(t, sha([]byte("payload")), moved.Hash)
}

func TestLocalDirMoveRefusesOverwrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "src.txt", []byte("a"))
	writeFile(t, dir, "dst.txt", []byte("b"))

	r, err := NewLocalDir("gdrive", dir, nil)
	require.NoError(t, err)

	err = r.Move(context.Background(), "src.txt", "dst.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// Both files are untouched.
	src, err := r.Stat(context.Background(), "src.txt")
	require.NoError(t, err)
	assert.Equal(t, sha([]byte("a")), src.Hash)
}

func TestLocalDirDelete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "victim.txt", []byte("x"))
	writeFile(t, dir, "sub/file.txt", []byte("y"))

	r, err := NewLocalDir("gdrive", dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Delete(ctx, "victim.txt"))
	_, err = r.Stat(ctx, "victim.txt")
	require.ErrorIs(t, err, ErrNotFound)

	err = r.Delete(ctx, "sub")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to delete directory")

	err = r.Delete(ctx, "victim.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalDirPathsCannotEscapeRoot(t *testing.T) {
	t.Parallel()

	outer := t.TempDir()
	root := filepath.Join(outer, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outer, "secret.txt"), []byte("s"), 0o644))

	r, err := NewLocalDir("gdrive", root, nil)
	require.NoError(t, err)

	_, err = r.Stat(context.Background(), "../secret.txt")
	require.ErrorIs(t, err, ErrNotFound)

	err = r.Delete(context.Background(), "../../secret.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, Retryable(ErrUnavailable))
	assert.False(t, Retryable(ErrAuthExpired))
	assert.False(t, Retryable(ErrNotFound))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(nil))
}

package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// LocalDir is a Remote backed by a locally-mapped cloud directory
// (Google Drive, OneDrive, iCloud Drive, Dropbox sync folders). The
// local folder IS the cloud: deleting here deletes from the backend,
// which is exactly why every mutation goes through the executor.
type LocalDir struct {
	id      string
	root    string
	exclude []string
}

var _ Remote = (*LocalDir)(nil)

// NewLocalDir creates a LocalDir remote rooted at root. The root must
// exist and be a directory.
func NewLocalDir(id, root string, exclude []string) (*LocalDir, error) {
	if id == "" {
		return nil, errors.New("remote id cannot be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: root %q", ErrNotFound, abs)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", abs)
	}

	return &LocalDir{id: id, root: abs, exclude: exclude}, nil
}

// ID returns the stable remote identifier.
func (l *LocalDir) ID() string { return l.id }

// List walks the root concurrently with fastwalk and returns a record
// per regular file, each with a SHA-256 content hash. Unreadable files
// are skipped; the walk itself only fails on root-level errors.
func (l *LocalDir) List(ctx context.Context, scope string) ([]types.FileRecord, error) {
	start := l.root
	if scope != "" {
		start = filepath.Join(l.root, filepath.FromSlash(scope))
	}

	var (
		records []types.FileRecord
		mu      sync.Mutex
	)

	conf := fastwalk.Config{
		Follow: false, // Don't follow symlinks.
	}

	err := fastwalk.Walk(&conf, start, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}
		if d.IsDir() {
			if l.isExcluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || l.isExcluded(path) {
			return nil
		}

		rec, err := l.record(path, d)
		if err != nil {
			return nil
		}

		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, start)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})

	return records, nil
}

// Stat re-reads one file's live metadata, including a fresh SHA-256.
func (l *LocalDir) Stat(ctx context.Context, path string) (types.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.FileRecord{}, err
	}

	full := l.abs(path)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return types.FileRecord{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return types.FileRecord{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if info.IsDir() {
		return types.FileRecord{
			RemoteID: l.id,
			Path:     path,
			ModTime:  info.ModTime().UTC(),
			IsDir:    true,
		}, nil
	}

	hash, err := hashFile(full)
	if err != nil {
		return types.FileRecord{}, fmt.Errorf("%w: hashing %s: %v", ErrUnavailable, path, err)
	}

	return types.FileRecord{
		RemoteID:  l.id,
		Path:      path,
		SizeBytes: info.Size(),
		HashAlg:   types.HashSHA256,
		Hash:      hash,
		ModTime:   info.ModTime().UTC(),
	}, nil
}

// Move relocates a file within the local tree, creating destination
// directories as needed. An existing destination is never overwritten.
func (l *LocalDir) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcFull := l.abs(src)
	dstFull := l.abs(dst)

	if _, err := os.Stat(dstFull); err == nil {
		return fmt.Errorf("destination already exists: %s", dst)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := os.MkdirAll(filepath.Dir(dstFull), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := os.Rename(srcFull, dstFull); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete permanently removes one file. Directories are refused.
func (l *LocalDir) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full := l.abs(path)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if info.IsDir() {
		return fmt.Errorf("refusing to delete directory: %s", path)
	}

	if err := os.Remove(full); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// abs converts a remote-relative slash path to an absolute local path.
// Rooting the path before cleaning keeps ".." from escaping the root.
func (l *LocalDir) abs(path string) string {
	clean := filepath.Clean(string(filepath.Separator) + filepath.FromSlash(path))
	return filepath.Join(l.root, clean)
}

// record builds a FileRecord for one regular file, hashing its content.
func (l *LocalDir) record(path string, d fs.DirEntry) (types.FileRecord, error) {
	info, err := d.Info()
	if err != nil {
		return types.FileRecord{}, err
	}

	hash, err := hashFile(path)
	if err != nil {
		return types.FileRecord{}, err
	}

	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return types.FileRecord{}, err
	}

	return types.FileRecord{
		RemoteID:  l.id,
		Path:      filepath.ToSlash(rel),
		SizeBytes: info.Size(),
		HashAlg:   types.HashSHA256,
		Hash:      hash,
		ModTime:   info.ModTime().UTC(),
	}, nil
}

// isExcluded checks a path against the configured exclusion patterns.
func (l *LocalDir) isExcluded(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range l.exclude {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

// hashFile computes the SHA-256 digest of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

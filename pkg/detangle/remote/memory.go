package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// Memory is an in-memory Remote used by tests and dry runs. Failures
// can be injected per operation to exercise the collector's retry
// classification and the executor's verification paths.
type Memory struct {
	id string

	mu    sync.Mutex
	files map[string]memoryFile

	// Injected failures, keyed by operation name: "list", "stat",
	// "move", "delete". Each consumes failCount before succeeding.
	failErr   map[string]error
	failCount map[string]int

	// ListDelay simulates a slow backend so timeout handling can be
	// tested against real deadlines.
	ListDelay time.Duration
}

type memoryFile struct {
	data    []byte
	hash    string
	modTime time.Time
}

var _ Remote = (*Memory)(nil)

// NewMemory creates an empty in-memory remote.
func NewMemory(id string) *Memory {
	return &Memory{
		id:        id,
		files:     make(map[string]memoryFile),
		failErr:   make(map[string]error),
		failCount: make(map[string]int),
	}
}

// ID returns the stable remote identifier.
func (m *Memory) ID() string { return m.id }

// Put stores a file with the given content and modification time.
func (m *Memory) Put(path string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := sha256.Sum256(data)
	m.files[path] = memoryFile{
		data:    append([]byte(nil), data...),
		hash:    hex.EncodeToString(sum[:]),
		modTime: modTime.UTC(),
	}
}

// Exists reports whether a path is present.
func (m *Memory) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// FailNext makes the next n calls of the named operation ("list",
// "stat", "move", "delete") return err.
func (m *Memory) FailNext(op string, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr[op] = err
	m.failCount[op] = n
}

// List returns all stored records sorted by path.
func (m *Memory) List(ctx context.Context, scope string) ([]types.FileRecord, error) {
	if m.ListDelay > 0 {
		select {
		case <-time.After(m.ListDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.consumeFailure("list"); err != nil {
		return nil, err
	}

	records := make([]types.FileRecord, 0, len(m.files))
	for path, f := range m.files {
		records = append(records, m.recordLocked(path, f))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})
	return records, nil
}

// Stat returns the live record for one path.
func (m *Memory) Stat(ctx context.Context, path string) (types.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.FileRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.consumeFailure("stat"); err != nil {
		return types.FileRecord{}, err
	}

	f, ok := m.files[path]
	if !ok {
		return types.FileRecord{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return m.recordLocked(path, f), nil
}

// Move relocates a file, refusing to overwrite the destination.
func (m *Memory) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.consumeFailure("move"); err != nil {
		return err
	}

	f, ok := m.files[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if _, exists := m.files[dst]; exists {
		return fmt.Errorf("destination already exists: %s", dst)
	}

	m.files[dst] = f
	delete(m.files, src)
	return nil
}

// Delete removes a file.
func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.consumeFailure("delete"); err != nil {
		return err
	}

	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	delete(m.files, path)
	return nil
}

// recordLocked builds a FileRecord; caller holds the mutex.
func (m *Memory) recordLocked(path string, f memoryFile) types.FileRecord {
	return types.FileRecord{
		RemoteID:  m.id,
		Path:      path,
		SizeBytes: int64(len(f.data)),
		HashAlg:   types.HashSHA256,
		Hash:      f.hash,
		ModTime:   f.modTime,
	}
}

// consumeFailure pops one injected failure for op; caller holds the mutex.
func (m *Memory) consumeFailure(op string) error {
	if m.failCount[op] > 0 {
		m.failCount[op]--
		return m.failErr[op]
	}
	return nil
}

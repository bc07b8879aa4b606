package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// ErrNotFound is returned when a manifest doesn't exist in the store.
var ErrNotFound = errors.New("manifest not found")

// keyPrefix namespaces manifest entries inside the store.
const keyPrefix = "manifest/"

// Store persists manifests in Badger, content-addressed by
// (remote_id, captured_at). Manifests are never overwritten or
// deleted by the pipeline; they are history.
type Store struct {
	db *badger.DB
}

// OpenStore opens or creates a manifest store at the given path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening manifest store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put persists a manifest under its content address. Storing the same
// (remote, captured_at) twice is rejected: manifests are immutable.
func (s *Store) Put(m *types.RemoteManifest) error {
	key := makeKey(m.RemoteID, m.CapturedAt)

	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("manifest already exists: %s", m.Key())
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
}

// Get retrieves a manifest by its key ("remote@RFC3339").
func (s *Store) Get(manifestKey string) (*types.RemoteManifest, error) {
	remoteID, capturedAt, err := parseKey(manifestKey)
	if err != nil {
		return nil, err
	}

	key := makeKey(remoteID, capturedAt)
	var m types.RemoteManifest

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Latest returns the most recent manifest for a remote. Capture times
// are compared as parsed times: key strings with fractional seconds do
// not sort chronologically.
func (s *Store) Latest(remoteID string) (*types.RemoteManifest, error) {
	keys, err := s.List(remoteID)
	if err != nil {
		return nil, err
	}

	var bestKey string
	var bestAt time.Time
	for _, k := range keys {
		_, at, err := parseKey(k)
		if err != nil {
			continue
		}
		if bestKey == "" || at.After(bestAt) {
			bestKey, bestAt = k, at
		}
	}
	if bestKey == "" {
		return nil, fmt.Errorf("%w: no manifests for remote %s", ErrNotFound, remoteID)
	}
	return s.Get(bestKey)
}

// LatestSet returns the most recent manifest of every remote that has
// one, sorted by remote id. This is the default input to an index build.
func (s *Store) LatestSet() ([]*types.RemoteManifest, error) {
	keys, err := s.List("")
	if err != nil {
		return nil, err
	}

	type candidate struct {
		key string
		at  time.Time
	}
	latest := make(map[string]candidate)
	for _, k := range keys {
		remoteID, at, err := parseKey(k)
		if err != nil {
			continue
		}
		if c, ok := latest[remoteID]; !ok || at.After(c.at) {
			latest[remoteID] = candidate{key: k, at: at}
		}
	}

	remotes := make([]string, 0, len(latest))
	for r := range latest {
		remotes = append(remotes, r)
	}
	sort.Strings(remotes)

	manifests := make([]*types.RemoteManifest, 0, len(remotes))
	for _, r := range remotes {
		m, err := s.Get(latest[r].key)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// List returns manifest keys, sorted ascending. A non-empty remoteID
// restricts the listing to one remote.
func (s *Store) List(remoteID string) ([]string, error) {
	prefix := []byte(keyPrefix)
	if remoteID != "" {
		prefix = []byte(keyPrefix + remoteID + "/")
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := string(it.Item().Key())
			parts := strings.SplitN(strings.TrimPrefix(k, keyPrefix), "/", 2)
			if len(parts) != 2 {
				continue
			}
			keys = append(keys, parts[0]+"@"+parts[1])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

// makeKey builds the storage key for a (remote, captured_at) pair.
// Nanosecond precision keeps two gathers within the same second from
// colliding.
func makeKey(remoteID string, capturedAt time.Time) []byte {
	return []byte(keyPrefix + remoteID + "/" + capturedAt.UTC().Format(time.RFC3339Nano))
}

// parseKey splits a manifest key of the form "remote@RFC3339", with or
// without fractional seconds.
func parseKey(manifestKey string) (string, time.Time, error) {
	idx := strings.LastIndex(manifestKey, "@")
	if idx <= 0 {
		return "", time.Time{}, fmt.Errorf("invalid manifest key: %q", manifestKey)
	}

	remoteID := manifestKey[:idx]
	capturedAt, err := time.Parse(time.RFC3339Nano, manifestKey[idx+1:])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid manifest key %q: %w", manifestKey, err)
	}
	return remoteID, capturedAt, nil
}

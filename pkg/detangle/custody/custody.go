// Package custody implements the chain-of-custody log: an append-only
// sequence of hash-chained records, one per executor state transition.
// Each entry embeds the hash of the previous entry, so any later edit
// or deletion breaks the chain and is detectable. Entries are durably
// persisted before the mutation they announce is issued, so a crash
// mid-operation always leaves evidence of intent.
package custody

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// genesisHash anchors the chain before the first entry.
const genesisHash = "genesis"

// ErrChainBroken is returned by Verify when the log has been tampered
// with or truncated in the middle.
var ErrChainBroken = errors.New("custody chain broken")

// Entry is one immutable custody record. Entries are never mutated or
// deleted once written.
type Entry struct {
	// Seq is the 1-based position in the chain.
	Seq uint64 `json:"seq"`

	// Timestamp is when the transition happened, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// PlanID and ActionID identify the action the transition belongs to.
	PlanID   string `json:"plan_id"`
	ActionID string `json:"action_id"`

	// Op is the planned operation (keep, move, delete).
	Op types.Op `json:"op"`

	// Transition is the status the action moved into.
	Transition types.Status `json:"transition"`

	// Outcome summarizes the result: "ok", "noop", "stale_state",
	// "verification_failed", or a short failure class.
	Outcome string `json:"outcome,omitempty"`

	// BeforeHash is the content hash of the target observed before the
	// mutation; AfterHash is the hash observed at the destination after
	// a verified move, empty for deletes.
	BeforeHash string `json:"before_hash,omitempty"`
	AfterHash  string `json:"after_hash,omitempty"`

	// Note carries human-readable failure detail.
	Note string `json:"note,omitempty"`

	// PrevHash is the EntryHash of the previous entry, or "genesis".
	PrevHash string `json:"prev_entry_hash"`

	// EntryHash is the SHA-256 of this entry's canonical encoding with
	// EntryHash itself blank. It becomes the next entry's PrevHash.
	EntryHash string `json:"entry_hash"`
}

// hash computes the chain hash of the entry with EntryHash blanked.
func (e Entry) hash() (string, error) {
	e.EntryHash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Log is an append-only custody log backed by one JSONL file.
type Log struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	nextSeq  uint64
	lastHash string
	now      func() time.Time
}

// Open opens or creates a custody log at path, replaying the existing
// chain to resume it. A broken existing chain is refused outright: the
// log must never be silently extended past tampering.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating custody directory: %w", err)
	}

	entries, err := readEntries(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	lastHash := genesisHash
	var nextSeq uint64 = 1
	if len(entries) > 0 {
		if err := verifyEntries(entries); err != nil {
			return nil, fmt.Errorf("refusing to append to %s: %w", path, err)
		}
		last := entries[len(entries)-1]
		lastHash = last.EntryHash
		nextSeq = last.Seq + 1
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening custody log: %w", err)
	}

	return &Log{
		file:     file,
		path:     path,
		nextSeq:  nextSeq,
		lastHash: lastHash,
		now:      time.Now,
	}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Append seals the entry into the chain and durably persists it before
// returning. The caller fills every field except Seq, Timestamp,
// PrevHash, and EntryHash.
func (l *Log) Append(e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return Entry{}, errors.New("custody log is closed")
	}

	e.Seq = l.nextSeq
	e.Timestamp = l.now().UTC()
	e.PrevHash = l.lastHash

	hash, err := e.hash()
	if err != nil {
		return Entry{}, fmt.Errorf("hashing custody entry: %w", err)
	}
	e.EntryHash = hash

	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding custody entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return Entry{}, fmt.Errorf("writing custody entry: %w", err)
	}
	// Write-ahead discipline: the entry must hit stable storage before
	// the external mutation it records is issued.
	if err := l.file.Sync(); err != nil {
		return Entry{}, fmt.Errorf("syncing custody log: %w", err)
	}

	l.nextSeq++
	l.lastHash = e.EntryHash
	return e, nil
}

// Entries returns every entry in the log in order.
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()
	return readEntries(path)
}

// Verify checks the whole chain on disk: sequence numbers, previous
// hash links, and every entry hash.
func (l *Log) Verify() error {
	entries, err := l.Entries()
	if err != nil {
		return err
	}
	return verifyEntries(entries)
}

// ReadFile loads every entry of a custody log without opening it for
// appending.
func ReadFile(path string) ([]Entry, error) {
	return readEntries(path)
}

// VerifyFile checks the chain of a custody log without opening it for
// appending.
func VerifyFile(path string) (int, error) {
	entries, err := readEntries(path)
	if err != nil {
		return 0, err
	}
	return len(entries), verifyEntries(entries)
}

// readEntries loads and decodes every line of the log file.
func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%w: undecodable entry at line %d: %v", ErrChainBroken, line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading custody log: %w", err)
	}
	return entries, nil
}

// verifyEntries checks hashes and links of an in-memory chain.
func verifyEntries(entries []Entry) error {
	prev := genesisHash
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			return fmt.Errorf("%w: entry %d has seq %d", ErrChainBroken, i+1, e.Seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d links to %s, want %s", ErrChainBroken, e.Seq, e.PrevHash, prev)
		}
		want, err := e.hash()
		if err != nil {
			return fmt.Errorf("hashing entry %d: %w", e.Seq, err)
		}
		if e.EntryHash != want {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, e.Seq)
		}
		prev = e.EntryHash
	}
	return nil
}

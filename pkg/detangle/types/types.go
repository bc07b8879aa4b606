// Package types provides the core data types for the detangle pipeline.
// It includes the manifest, duplicate-group, and action-plan structures
// shared by every stage, along with utility functions for parsing and
// formatting file sizes.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// HashAlg identifies the digest algorithm a backend reported for a file.
// Records tagged with different algorithms are never compared.
type HashAlg string

// Known hash algorithms reported by listing backends.
const (
	HashSHA256 HashAlg = "sha256"
	HashMD5    HashAlg = "md5"
)

// FileRecord is one file as reported by a backend listing at a point
// in time. The (RemoteID, Path) pair is unique within a manifest.
type FileRecord struct {
	// RemoteID identifies the backend this record came from.
	RemoteID string `json:"remote_id"`

	// Path is the file path within the remote.
	Path string `json:"path"`

	// SizeBytes is the file size in bytes.
	SizeBytes int64 `json:"size_bytes"`

	// HashAlg tags the algorithm of Hash. Empty when Hash is empty.
	HashAlg HashAlg `json:"hash_algorithm,omitempty"`

	// Hash is the content digest, hex encoded. May be empty when the
	// backend could not produce one; such records never join a group.
	Hash string `json:"content_hash,omitempty"`

	// ModTime is the last modification time reported by the backend.
	ModTime time.Time `json:"modified_time"`

	// IsDir marks directory entries. Directories never join groups.
	IsDir bool `json:"is_directory,omitempty"`
}

// Ref returns the (remote, path) location of the record.
func (r FileRecord) Ref() string {
	return r.RemoteID + ":" + r.Path
}

// HumanSize returns the record size formatted as a human-readable string.
func (r FileRecord) HumanSize() string {
	return FormatSize(r.SizeBytes)
}

// RemoteManifest is an immutable snapshot of the file records of one
// remote at one capture time. Manifests are retained as history; each
// collection run produces a fresh one.
type RemoteManifest struct {
	// RemoteID identifies the backend the snapshot was taken from.
	RemoteID string `json:"remote_id"`

	// CapturedAt is when the listing completed, in UTC.
	CapturedAt time.Time `json:"captured_at"`

	// Records is the ordered sequence of file records, sorted by path.
	Records []FileRecord `json:"records"`
}

// Key returns the content address of the manifest, unique per
// (remote, capture time). Sub-second capture times keep their
// fractional part, so back-to-back gathers never collide.
func (m *RemoteManifest) Key() string {
	return fmt.Sprintf("%s@%s", m.RemoteID, m.CapturedAt.UTC().Format(time.RFC3339Nano))
}

// FileCount returns the number of non-directory records.
func (m *RemoteManifest) FileCount() int {
	n := 0
	for _, r := range m.Records {
		if !r.IsDir {
			n++
		}
	}
	return n
}

// TotalBytes returns the sum of all non-directory record sizes.
func (m *RemoteManifest) TotalBytes() int64 {
	var total int64
	for _, r := range m.Records {
		if !r.IsDir {
			total += r.SizeBytes
		}
	}
	return total
}

// DuplicateGroup is a set of file records across at least two distinct
// (remote, path) locations sharing identical algorithm, digest, and size.
type DuplicateGroup struct {
	// GroupID is derived from the (algorithm, hash) pair and is stable
	// across rebuilds from the same inputs.
	GroupID string `json:"group_id"`

	// HashAlg is the digest algorithm shared by every member.
	HashAlg HashAlg `json:"hash_algorithm"`

	// Hash is the content digest shared by every member.
	Hash string `json:"content_hash"`

	// SizeBytes is the file size shared by every member.
	SizeBytes int64 `json:"size_bytes"`

	// Members holds the duplicate records in canonical order: remote
	// priority rank, then modification time descending, then path.
	// The first member is the default keep candidate.
	Members []FileRecord `json:"members"`
}

// Waste returns the reclaimable bytes in the group: every copy beyond
// the first is waste.
func (g *DuplicateGroup) Waste() int64 {
	if len(g.Members) < 2 {
		return 0
	}
	return int64(len(g.Members)-1) * g.SizeBytes
}

// IntegrityWarning flags records that disagreed with their group, such
// as an identical hash with a differing size. The affected records are
// excluded from grouping rather than merged speculatively.
type IntegrityWarning struct {
	HashAlg HashAlg      `json:"hash_algorithm"`
	Hash    string       `json:"content_hash"`
	Reason  string       `json:"reason"`
	Records []FileRecord `json:"records"`
}

// RemoteWaste is the per-remote share of the reclaimable bytes.
type RemoteWaste struct {
	RemoteID   string `json:"remote_id"`
	Files      int    `json:"files"`
	WasteBytes int64  `json:"waste_bytes"`
}

// DedupIndex is the deterministic merge of a set of manifests into
// duplicate groups. Identical inputs serialize byte-identically.
type DedupIndex struct {
	// GenerationID is a digest over the exact manifest set the index
	// was built from. Plans are bound to one generation.
	GenerationID string `json:"generation_id"`

	// Manifests lists the keys of the input manifests, sorted.
	Manifests []string `json:"manifests"`

	// Groups holds the duplicate groups sorted by (algorithm, hash).
	Groups []DuplicateGroup `json:"groups"`

	// Warnings holds integrity warnings raised during the build.
	Warnings []IntegrityWarning `json:"warnings,omitempty"`

	// TotalWasteBytes is the sum of Waste() over all groups.
	TotalWasteBytes int64 `json:"total_waste_bytes"`

	// RemoteWaste breaks the waste down per remote, sorted by remote id.
	RemoteWaste []RemoteWaste `json:"remote_waste,omitempty"`
}

// Op is the operation a planned action performs on its source record.
type Op string

// Planned operations.
const (
	OpKeep   Op = "keep"
	OpMove   Op = "move"
	OpDelete Op = "delete"
)

// Destructive reports whether the operation mutates backend state.
func (o Op) Destructive() bool {
	return o == OpMove || o == OpDelete
}

// Status is the lifecycle state of a planned action.
type Status string

// Action statuses. Only pending -> approved is a human edit; the
// executor owns every other transition.
const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusExecuting Status = "executing"
	StatusVerified  Status = "verified"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed || s == StatusSkipped
}

// PlannedAction is one reviewed operation against one file record.
type PlannedAction struct {
	ActionID string `json:"action_id"`
	GroupID  string `json:"group_id"`
	Op       Op     `json:"op"`

	// Source is the snapshot of the record the action targets. The
	// executor compares live metadata against it before mutating.
	Source FileRecord `json:"source"`

	// Destination is the holding-area path for move actions.
	Destination string `json:"destination,omitempty"`

	// Status is the only field a human may edit, and only from
	// pending to approved or skipped.
	Status Status `json:"status"`

	// Error carries the failure detail once Status is failed.
	Error string `json:"error,omitempty"`
}

// SelectionRule decides which member of each group is kept.
type SelectionRule string

// Selection rules. KeepRemotePrefix rules carry the remote id as a
// suffix, e.g. "keep-remote:gdrive".
const (
	SelectNewest     SelectionRule = "keep-newest"
	SelectManual     SelectionRule = "manual"
	KeepRemotePrefix               = "keep-remote:"
)

// Mode selects what happens to non-keep members.
type Mode string

// Planning modes. Safe mode moves copies to the holding area;
// destructive mode deletes them outright.
const (
	ModeSafe        Mode = "safe"
	ModeDestructive Mode = "destructive"
)

// DefaultHoldingPrefix is the in-remote root of the holding area where
// safe-mode moves park displaced copies. Listings must exclude it:
// parked copies are already accounted for and never re-enter grouping.
const DefaultHoldingPrefix = ".detangle/holding"

// Policy is the reviewed planning policy.
type Policy struct {
	SelectionRule SelectionRule `json:"selection_rule" mapstructure:"selection_rule"`
	Mode          Mode          `json:"mode" mapstructure:"mode"`
}

// ActionPlan is the reviewable, approvable output of the planner.
// Once generated from a fixed index generation it is immutable except
// for per-action status edits, until the executor consumes it.
type ActionPlan struct {
	PlanID       string    `json:"plan_id"`
	GenerationID string    `json:"generation_id"`
	CreatedAt    time.Time `json:"created_at"`
	Policy       Policy    `json:"policy"`

	// RequiresReview is set for manual selection: every action starts
	// pending and nothing executes until a human approves it.
	RequiresReview bool `json:"requires_review,omitempty"`

	// Actions is the ordered action sequence. Actions against the same
	// remote execute in this order.
	Actions []PlannedAction `json:"actions"`

	// ExecutedAt is set when the executor consumes the plan. A plan is
	// consumed exactly once.
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// Counts tallies action statuses for end-of-stage summaries.
func (p *ActionPlan) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, a := range p.Actions {
		counts[a.Status]++
	}
	return counts
}

// Action returns a pointer to the action with the given id, or nil.
func (p *ActionPlan) Action(id string) *PlannedAction {
	for i := range p.Actions {
		if p.Actions[i].ActionID == id {
			return &p.Actions[i]
		}
	}
	return nil
}

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB".
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size string and returns the size
// in bytes. Plain byte counts, and K/M/G/T suffixes with optional B or
// iB, are accepted. Decimal values are truncated to the nearest byte.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	var multiplier int64
	switch suffix {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units for consistency with common filesystem tools.
func FormatSize(bytes int64) string {
	return humanize.IBytes(uint64(bytes))
}

// Package output provides formatters for displaying dedup index
// reports in various output formats (pretty, plain, json).
//
// The package uses a registry pattern to allow registration of
// multiple formatter implementations selected at runtime.
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// GroupRow is one duplicate group prepared for display.
type GroupRow struct {
	// GroupID identifies the group.
	GroupID string `json:"group_id"`

	// Size is the per-copy size in bytes.
	Size int64 `json:"size"`

	// SizeHuman is the human-readable per-copy size.
	SizeHuman string `json:"size_human"`

	// Copies is the number of members in the group.
	Copies int `json:"copies"`

	// Waste is the reclaimable bytes: every copy beyond the first.
	Waste int64 `json:"waste"`

	// WasteHuman is the human-readable waste.
	WasteHuman string `json:"waste_human"`

	// Locations lists each member as "remote:path" in canonical order.
	Locations []string `json:"locations"`
}

// Report is the complete display data for an index.
type Report struct {
	// GenerationID binds the report to the index it describes.
	GenerationID string `json:"generation_id"`

	// Manifests lists the input manifest keys.
	Manifests []string `json:"manifests"`

	// Groups holds the duplicate groups sorted by waste descending.
	Groups []GroupRow `json:"groups"`

	// TotalWaste is the aggregate reclaimable bytes.
	TotalWaste int64 `json:"total_waste"`

	// TotalWasteHuman is the human-readable aggregate waste.
	TotalWasteHuman string `json:"total_waste_human"`

	// RemoteWaste is the per-remote waste breakdown.
	RemoteWaste []types.RemoteWaste `json:"remote_waste,omitempty"`

	// Warnings carries integrity warning summaries.
	Warnings []string `json:"warnings,omitempty"`
}

// BuildReport prepares an index for display, ordering groups by waste
// descending so the biggest wins surface first.
func BuildReport(idx *types.DedupIndex) *Report {
	r := &Report{
		GenerationID:    idx.GenerationID,
		Manifests:       idx.Manifests,
		TotalWaste:      idx.TotalWasteBytes,
		TotalWasteHuman: types.FormatSize(idx.TotalWasteBytes),
		RemoteWaste:     idx.RemoteWaste,
	}

	for _, g := range idx.Groups {
		row := GroupRow{
			GroupID:    g.GroupID,
			Size:       g.SizeBytes,
			SizeHuman:  types.FormatSize(g.SizeBytes),
			Copies:     len(g.Members),
			Waste:      g.Waste(),
			WasteHuman: types.FormatSize(g.Waste()),
		}
		for _, m := range g.Members {
			row.Locations = append(row.Locations, m.Ref())
		}
		r.Groups = append(r.Groups, row)
	}

	sort.SliceStable(r.Groups, func(i, j int) bool {
		return r.Groups[i].Waste > r.Groups[j].Waste
	})

	for _, w := range idx.Warnings {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("%s (%s %s, %d records)", w.Reason, w.HashAlg, w.Hash, len(w.Records)))
	}

	return r
}

// Formatter is the interface that all output formatters implement.
type Formatter interface {
	// Format writes the formatted report to the buffer.
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry, replacing any
// existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

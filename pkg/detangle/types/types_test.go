package types

import (
	"testing"
	"time"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain bytes", input: "1024", want: 1024, wantErr: false},
		{name: "zero bytes", input: "0", want: 0, wantErr: false},
		{name: "bytes with B suffix", input: "512B", want: 512, wantErr: false},

		{name: "kilobytes uppercase", input: "100K", want: 100 * 1024, wantErr: false},
		{name: "kilobytes lowercase", input: "100k", want: 100 * 1024, wantErr: false},
		{name: "kilobytes with iB", input: "100KiB", want: 100 * 1024, wantErr: false},

		{name: "megabytes", input: "50M", want: 50 * 1024 * 1024, wantErr: false},
		{name: "megabytes with B", input: "50MB", want: 50 * 1024 * 1024, wantErr: false},

		{name: "gigabytes", input: "2G", want: 2 * 1024 * 1024 * 1024, wantErr: false},
		{name: "terabytes", input: "1T", want: 1024 * 1024 * 1024 * 1024, wantErr: false},

		{name: "leading whitespace", input: "  100M", want: 100 * 1024 * 1024, wantErr: false},
		{name: "trailing whitespace", input: "100M  ", want: 100 * 1024 * 1024, wantErr: false},
		{name: "decimal values truncated", input: "1.5G", want: 1610612736, wantErr: false},

		{name: "empty string", input: "", wantErr: true},
		{name: "only whitespace", input: "   ", wantErr: true},
		{name: "invalid suffix", input: "100X", wantErr: true},
		{name: "negative value", input: "-100M", wantErr: true},
		{name: "letters only", input: "abc", wantErr: true},
		{name: "suffix only", input: "M", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestDuplicateGroupWaste(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		members int
		want    int64
	}{
		{name: "two copies", size: 100, members: 2, want: 100},
		{name: "three copies", size: 50, members: 3, want: 100},
		{name: "single member", size: 100, members: 1, want: 0},
		{name: "no members", size: 100, members: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := DuplicateGroup{SizeBytes: tt.size}
			for i := 0; i < tt.members; i++ {
				g.Members = append(g.Members, FileRecord{SizeBytes: tt.size})
			}
			if got := g.Waste(); got != tt.want {
				t.Errorf("Waste() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusApproved, false},
		{StatusExecuting, false},
		{StatusVerified, true},
		{StatusFailed, true},
		{StatusSkipped, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOpDestructive(t *testing.T) {
	if OpKeep.Destructive() {
		t.Error("keep must not be destructive")
	}
	if !OpMove.Destructive() {
		t.Error("move must be destructive")
	}
	if !OpDelete.Destructive() {
		t.Error("delete must be destructive")
	}
}

func TestManifestKey(t *testing.T) {
	captured := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := RemoteManifest{RemoteID: "gdrive", CapturedAt: captured}
	want := "gdrive@2026-03-01T12:00:00Z"
	if got := m.Key(); got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestManifestTotals(t *testing.T) {
	m := RemoteManifest{
		RemoteID: "a",
		Records: []FileRecord{
			{Path: "x", SizeBytes: 10},
			{Path: "dir", IsDir: true, SizeBytes: 5},
			{Path: "y", SizeBytes: 30},
		},
	}
	if got := m.FileCount(); got != 2 {
		t.Errorf("FileCount() = %d, want 2", got)
	}
	if got := m.TotalBytes(); got != 40 {
		t.Errorf("TotalBytes() = %d, want 40", got)
	}
}

func TestPlanCounts(t *testing.T) {
	plan := ActionPlan{
		Actions: []PlannedAction{
			{ActionID: "a1", Status: StatusPending},
			{ActionID: "a2", Status: StatusPending},
			{ActionID: "a3", Status: StatusApproved},
		},
	}

	counts := plan.Counts()
	if counts[StatusPending] != 2 || counts[StatusApproved] != 1 {
		t.Errorf("Counts() = %v", counts)
	}

	if plan.Action("a2") == nil {
		t.Error("Action(a2) = nil, want action")
	}
	if plan.Action("missing") != nil {
		t.Error("Action(missing) != nil")
	}
}

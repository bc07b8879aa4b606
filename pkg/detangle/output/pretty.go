package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// PrettyFormatter formats the report with colors and styling using
// lipgloss. It produces output suitable for terminal display.
type PrettyFormatter struct{}

// Format writes the formatted report to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatTable(r))
	w.WriteString(f.formatFooter(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}

	return nil
}

// formatHeader builds the header box with index metadata.
func (f *PrettyFormatter) formatHeader(r *Report) string {
	var lines []string

	genLabel := LabelStyle.Render("Generation:")
	genValue := ValueStyle.Render(r.GenerationID)
	lines = append(lines, fmt.Sprintf("%s %s", genLabel, genValue))

	srcLabel := LabelStyle.Render("Manifests:")
	srcValue := ValueStyle.Render(strings.Join(r.Manifests, "  "))
	lines = append(lines, fmt.Sprintf("%s %s", srcLabel, srcValue))

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

// formatTable builds the duplicate-group table.
func (f *PrettyFormatter) formatTable(r *Report) string {
	if len(r.Groups) == 0 {
		return MutedStyle.Render("  No duplicate groups found\n")
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		TableHeaderStyle.Render("WASTE"),
		TableHeaderStyle.Render("COPIES"),
		TableHeaderStyle.Render("SIZE"),
		TableHeaderStyle.Render("LOCATIONS")))

	maxWasteWidth := 8
	for _, g := range r.Groups {
		if len(g.WasteHuman) > maxWasteWidth {
			maxWasteWidth = len(g.WasteHuman)
		}
	}

	for _, g := range r.Groups {
		waste := WasteStyle.Render(padLeft(g.WasteHuman, maxWasteWidth))
		copies := ValueStyle.Render(padLeft(fmt.Sprintf("%d", g.Copies), 6))
		size := SizeStyle.Render(padLeft(g.SizeHuman, 8))
		locs := PathStyle.Render(strings.Join(g.Locations, "  "))
		sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n", waste, copies, size, locs))
	}

	return sb.String()
}

// formatFooter builds the waste summary box.
func (f *PrettyFormatter) formatFooter(r *Report) string {
	var lines []string

	totalLabel := LabelStyle.Render("Reclaimable:")
	totalValue := WasteStyle.Render(r.TotalWasteHuman)
	lines = append(lines, fmt.Sprintf("%s %s across %d groups", totalLabel, totalValue, len(r.Groups)))

	for _, rw := range r.RemoteWaste {
		id := ValueStyle.Render(rw.RemoteID)
		waste := SizeStyle.Render(types.FormatSize(rw.WasteBytes))
		lines = append(lines, fmt.Sprintf("  %s: %s in %d files", id, waste, rw.Files))
	}

	return FooterBox.Render(strings.Join(lines, "\n"))
}

// formatWarnings renders integrity warnings.
func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	for _, warn := range warnings {
		sb.WriteString(WarningStyle.Render("  ! " + warn))
		sb.WriteString("\n")
	}
	return sb.String()
}

// padLeft pads s with spaces on the left to the given width.
func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)

package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// PlainFormatter formats the report as a simple tab-separated table.
// It produces plain text output suitable for scripting and piping.
// No colors or styling are applied.
type PlainFormatter struct{}

// Format writes the formatted report to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	fmt.Fprintf(w, "generation %s (%d manifests, %d duplicate groups)\n",
		r.GenerationID, len(r.Manifests), len(r.Groups))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := tw.Write([]byte("GROUP\tCOPIES\tSIZE\tWASTE\tLOCATIONS\n")); err != nil {
		return err
	}

	for _, g := range r.Groups {
		row := fmt.Sprintf("%s\t%d\t%s\t%s\t%s\n",
			g.GroupID, g.Copies, g.SizeHuman, g.WasteHuman,
			strings.Join(g.Locations, ", "))
		if _, err := tw.Write([]byte(row)); err != nil {
			return err
		}
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "total waste: %s\n", r.TotalWasteHuman)
	for _, rw := range r.RemoteWaste {
		fmt.Fprintf(w, "  %s: %s\n", rw.RemoteID, types.FormatSize(rw.WasteBytes))
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}

	return nil
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)

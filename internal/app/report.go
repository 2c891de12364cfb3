package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/ui/output"
	"go.trai.ch/kiln/internal/ui/style"
)

// WriteReport prints the diagnostics and failures of report, one line
// each and sorted by module, followed by a summary line.
func WriteReport(w io.Writer, report *domain.Report) {
	out := output.NewWithProfile(w, output.ColorProfileANSI)
	for _, o := range report.Sorted() {
		if o.Result != nil {
			for _, d := range o.Result.Diagnostics {
				var color termenv.Color = termenv.ANSIYellow
				if d.Severity == domain.SeverityError {
					color = termenv.ANSIRed
				}
				line := out.String(d.String()).Foreground(color)
				_, _ = fmt.Fprintf(out, "%s: %s\n", o.Name, line)
			}
		}
		switch o.Status {
		case domain.TaskFailed:
			_, _ = fmt.Fprintf(out, "%s: %s %s\n", o.Name,
				out.String(style.Cross).Foreground(termenv.ANSIRed), firstLine(o.Cause))
		case domain.TaskSkipped:
			_, _ = fmt.Fprintf(out, "%s: %s skipped: %s\n", o.Name,
				out.String(style.Skip).Foreground(termenv.ANSIBrightBlack), firstLine(o.Cause))
		case domain.TaskCancelled:
			_, _ = fmt.Fprintf(out, "%s: %s cancelled\n", o.Name,
				out.String(style.Skip).Foreground(termenv.ANSIBrightBlack))
		}
	}

	s := report.Stats
	_, _ = fmt.Fprintf(out, "%d module(s): %d checked, %d cached, %d failed, %d skipped, %d diagnostic(s) in %s\n",
		s.Modules, s.Checked, s.Cached, s.Failed, s.Skipped, s.Diagnostics, s.Elapsed.Round(time.Millisecond))
}

// WriteLayers prints one dependency layer per line, leaves first.
func WriteLayers(w io.Writer, layers [][]string) {
	for i, layer := range layers {
		_, _ = fmt.Fprintf(w, "%d: %s\n", i, strings.Join(layer, " "))
	}
}

func firstLine(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return msg
}

// Package display formats CLI status lines for satori commands.
//
// Discovery results go to stdout through internal/output; everything
// here is decoration for people and goes to stderr.
package display

import (
	"fmt"
	"io"

	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
	"github.com/fatih/color"
)

// ColorReady returns a colorized readiness marker for a plugin
func ColorReady(ready bool) string {
	if ready {
		return color.New(color.FgGreen).Sprint("✓ ready")
	}
	return color.New(color.FgYellow).Sprint("○ missing credentials")
}

// ColorPhase returns a colorized phase name
func ColorPhase(phase types.Phase) string {
	switch phase {
	case types.PhaseControlPlane:
		return color.New(color.FgCyan).Sprint(string(phase))
	case types.PhaseDataPlane:
		return color.New(color.FgMagenta).Sprint(string(phase))
	default:
		return string(phase)
	}
}

// PrintPlugins writes one line per plugin in dispatch order.
func PrintPlugins(w io.Writer, infos []plugins.Info) {
	for _, info := range infos {
		fmt.Fprintf(w, "%-12s %-24s %4d  %s\n",
			info.Name, ColorPhase(info.Phase), info.Priority, ColorReady(info.Ready))
	}
}

// PrintSoftErrors lists the failures a run recovered from.
func PrintSoftErrors(w io.Writer, errs []types.PhaseError) {
	if len(errs) == 0 {
		return
	}
	warn := color.New(color.FgYellow)
	warn.Fprintf(w, "\n%d step(s) failed during discovery:\n", len(errs))
	for _, e := range errs {
		warn.Fprintf(w, "  ! %s\n", e.String())
	}
}

// PrintError writes a fatal error line.
func PrintError(w io.Writer, err error) {
	color.New(color.FgRed).Fprintf(w, "Error: %v\n", err)
}

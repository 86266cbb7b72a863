package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/junyiacademy/learnlog/internal/logstore"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// Terminal writes command output. Colors and indented JSON are only used
// when the output is an interactive terminal.
type Terminal struct {
	out         io.Writer
	interactive bool
	width       int
}

// NewTerminal creates an output helper, detecting whether out is a terminal.
func NewTerminal(out io.Writer) *Terminal {
	t := &Terminal{out: out, width: 80}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.interactive = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			t.width = w
		}
	}
	return t
}

// JSON encodes v, indented when interactive.
func (t *Terminal) JSON(v any) error {
	enc := json.NewEncoder(t.out)
	if t.interactive {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Records prints one line per record: time, severity, type, scope, id and message.
func (t *Terminal) Records(recs []*logstore.Record) {
	for _, rec := range recs {
		deleted := ""
		if rec.Deleted() {
			deleted = t.paint(colorDim, " (deleted)")
		}
		fmt.Fprintf(t.out, "%s  %s  %-11s  %s/%s/%s  %s  %s%s\n",
			t.paint(colorDim, rec.Timestamp.UTC().Format(time.RFC3339)),
			t.paint(severityColor(rec.Severity), fmt.Sprintf("%-8s", strings.ToUpper(string(rec.Severity)))),
			rec.Type,
			rec.UserID, rec.ProgramID, rec.TaskID,
			t.paint(colorCyan, rec.ID),
			rec.Message,
			deleted,
		)
	}
}

// Summary prints a banner with a headline and key/value lines.
func (t *Terminal) Summary(title string, lines [][2]string) {
	t.printLine("━")
	fmt.Fprintf(t.out, "%s\n", t.paint(colorBold+colorCyan, "  "+title))
	t.printLine("─")
	for _, kv := range lines {
		fmt.Fprintf(t.out, "  %-22s %s\n", kv[0], kv[1])
	}
	t.printLine("━")
}

// Done prints a success line.
func (t *Terminal) Done(msg string) {
	fmt.Fprintf(t.out, "%s %s\n", t.paint(colorBold+colorGreen, "✓"), msg)
}

func (t *Terminal) paint(color, s string) string {
	if !t.interactive {
		return s
	}
	return color + s + colorReset
}

func (t *Terminal) printLine(char string) {
	fmt.Fprintln(t.out, t.paint(colorDim, strings.Repeat(char, min(t.width, 80))))
}

func severityColor(s logstore.Severity) string {
	switch s {
	case logstore.SeverityCritical:
		return colorBold + colorRed
	case logstore.SeverityError:
		return colorRed
	case logstore.SeverityWarning:
		return colorYellow
	case logstore.SeverityDebug:
		return colorDim
	default:
		return colorGreen
	}
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, mins)
}

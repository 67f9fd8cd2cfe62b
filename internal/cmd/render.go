package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/Iron-Ham/uplink/internal/logging"
	"github.com/Iron-Ham/uplink/internal/task"
)

// renderer formats CLI output. Styles are only applied when the
// destination is a terminal.
type renderer struct {
	mu     sync.Mutex // serializes writes from pipeline goroutines
	out    io.Writer
	styled bool
	width  int

	muted  lipgloss.Style
	bold   lipgloss.Style
	status map[task.Status]lipgloss.Style
	level  map[string]lipgloss.Style
}

func newRenderer(out io.Writer) *renderer {
	r := &renderer{out: out, width: 100}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.styled = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			r.width = w
		}
	}

	r.muted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	r.bold = lipgloss.NewStyle().Bold(true)
	r.status = map[task.Status]lipgloss.Style{
		task.StatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		task.StatusUploading: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		task.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		task.StatusError:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		task.StatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}
	r.level = map[string]lipgloss.Style{
		logging.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		logging.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		logging.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		logging.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
	return r
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// taskLine renders one task as a single line:
//
//	[completed] a.png -> drive  https://x/a.png (1.2s)
func (r *renderer) taskLine(t task.Task) string {
	badge := r.style(r.status[t.Status], fmt.Sprintf("[%s]", t.Status))

	var sb strings.Builder
	sb.WriteString(badge)
	sb.WriteString(" ")
	sb.WriteString(r.style(r.bold, t.PayloadName()))
	sb.WriteString(r.style(r.muted, " -> "+t.ProviderID))

	switch t.Status {
	case task.StatusCompleted:
		if t.Result != nil {
			sb.WriteString("  ")
			url := t.Result.URL
			if t.Result.ShareURL != "" {
				url = t.Result.ShareURL
			}
			sb.WriteString(url)
		}
	case task.StatusError:
		sb.WriteString("  ")
		sb.WriteString(t.Error)
	}

	if t.StartedAt != nil && t.Status.IsTerminal() {
		sb.WriteString(r.style(r.muted, fmt.Sprintf(" (%s)", t.Duration(time.Now()).Round(10*time.Millisecond))))
	}
	return truncate(sb.String(), r.width)
}

// summary renders the final task counts.
func (r *renderer) summary(c task.Counts) string {
	parts := []string{fmt.Sprintf("%d completed", c.Completed)}
	if c.Error > 0 {
		parts = append(parts, r.style(r.status[task.StatusError], fmt.Sprintf("%d failed", c.Error)))
	}
	if c.Cancelled > 0 {
		parts = append(parts, fmt.Sprintf("%d cancelled", c.Cancelled))
	}
	return strings.Join(parts, ", ")
}

// logLine renders one log entry.
func (r *renderer) logLine(e logging.Entry) string {
	var sb strings.Builder
	sb.WriteString(r.style(r.muted, "["+e.Time.Format("15:04:05.000")+"]"))
	sb.WriteString(" ")
	level := logging.ParseLevel(e.Level)
	sb.WriteString(r.style(r.level[level], fmt.Sprintf("%-5s", level)))
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	for _, kv := range [][2]string{
		{"component", e.Component},
		{"task_id", e.TaskID},
		{"provider_id", e.ProviderID},
	} {
		if kv[1] != "" {
			sb.WriteString(r.style(r.muted, fmt.Sprintf(" %s=%s", kv[0], kv[1])))
		}
	}
	for _, key := range sortedKeys(e.Attrs) {
		sb.WriteString(r.style(r.muted, fmt.Sprintf(" %s=%v", key, e.Attrs[key])))
	}
	return sb.String()
}

// truncate shortens s to maxWidth visible columns, keeping ANSI styling
// intact and marking the cut with "...".
func truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

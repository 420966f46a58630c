package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HostStatus is how a host ended a cycle, as far as the terminal cares.
type HostStatus int

const (
	HostPublished HostStatus = iota
	HostPartial
	HostFailed
	HostSkipped
)

// HostLine is one row of a cycle summary.
type HostLine struct {
	Host     string
	Status   HostStatus
	File     string
	Detail   string // Error text or missing metrics
	Duration time.Duration
}

// CycleSummary holds what the CLI prints after each cycle.
type CycleSummary struct {
	Number   int
	Duration time.Duration
	ShareErr string
	Hosts    []HostLine
}

// SummaryRenderer formats cycle summaries for terminal display.
type SummaryRenderer struct {
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
	warningStyle lipgloss.Style
	pathStyle    lipgloss.Style
	mutedStyle   lipgloss.Style
	boldStyle    lipgloss.Style
}

// NewSummaryRenderer creates a new summary renderer with default styles.
func NewSummaryRenderer() *SummaryRenderer {
	return &SummaryRenderer{
		errorStyle:   ErrorStyle(),
		successStyle: SuccessStyle(),
		warningStyle: WarningStyle(),
		pathStyle:    InfoStyle(),
		mutedStyle:   MutedStyle(),
		boldStyle:    BoldStyle(),
	}
}

// RenderCycleSummary is shorthand for NewSummaryRenderer().Render.
func RenderCycleSummary(summary CycleSummary) string {
	return NewSummaryRenderer().Render(summary)
}

// Render generates the formatted summary string.
func (r *SummaryRenderer) Render(summary CycleSummary) string {
	var sb strings.Builder

	sb.WriteString(r.boldStyle.Render(fmt.Sprintf("Update #%d", summary.Number)))
	sb.WriteString(" ")
	sb.WriteString(r.mutedStyle.Render(formatDuration(summary.Duration)))
	sb.WriteString("\n")

	if summary.ShareErr != "" {
		sb.WriteString("  ")
		sb.WriteString(r.errorStyle.Render(SymbolFail + " share: " + firstLine(summary.ShareErr)))
		sb.WriteString("\n")
	}

	width := 0
	for _, h := range summary.Hosts {
		if len(h.Host) > width {
			width = len(h.Host)
		}
	}

	published := 0
	for _, h := range summary.Hosts {
		sb.WriteString("  ")
		sb.WriteString(r.renderHost(h, width))
		sb.WriteString("\n")
		if h.Status == HostPublished || h.Status == HostPartial {
			published++
		}
	}

	total := len(summary.Hosts)
	tally := fmt.Sprintf("%d/%d published", published, total)
	switch {
	case published == total:
		sb.WriteString(r.successStyle.Render(tally))
	case published == 0:
		sb.WriteString(r.errorStyle.Render(tally))
	default:
		sb.WriteString(r.warningStyle.Render(tally))
	}
	sb.WriteString("\n")

	return sb.String()
}

func (r *SummaryRenderer) renderHost(h HostLine, width int) string {
	name := h.Host + strings.Repeat(" ", width-len(h.Host))
	timing := r.mutedStyle.Render(formatDuration(h.Duration))

	switch h.Status {
	case HostPublished:
		return fmt.Sprintf("%s %s  %s %s", r.successStyle.Render(SymbolSuccess), name, r.pathStyle.Render(h.File), timing)
	case HostPartial:
		return fmt.Sprintf("%s %s  %s %s %s", r.warningStyle.Render(SymbolWarning), name,
			r.pathStyle.Render(h.File), r.warningStyle.Render("missing "+h.Detail), timing)
	case HostSkipped:
		return fmt.Sprintf("%s %s  %s", r.mutedStyle.Render(SymbolSkipped), name, r.mutedStyle.Render("skipped"))
	default:
		return fmt.Sprintf("%s %s  %s", r.errorStyle.Render(SymbolFail), name, r.errorStyle.Render(firstLine(h.Detail)))
	}
}

// firstLine trims structured error output to its headline.
func firstLine(s string) string {
	s = strings.TrimPrefix(s, SymbolFail+" ")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mickamy/tagvault/highlight"
)

var inspectorBorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	Padding(0, 1).
	Width(60)

// renderInspector renders the payload preview pane for the selected tag.
func renderInspector(tag string, content []byte, loaded bool) string {
	var b strings.Builder
	if tag == "" {
		b.WriteString(statusStyle.Render("select a tag with enter"))
		return inspectorBorderStyle.Render(b.String())
	}

	b.WriteString(fmt.Sprintf("%s (%d bytes)\n\n", tag, len(content)))
	if !loaded {
		b.WriteString(statusStyle.Render("(no entry for this tag)"))
	} else {
		b.WriteString(highlight.Payload(string(content)))
	}

	return inspectorBorderStyle.Render(strings.TrimRight(b.String(), "\n"))
}

var watchBorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	Padding(0, 1).
	Width(60)

// renderWatch renders the tail of recent observer notifications.
func renderWatch(log []string) string {
	const maxLines = 8
	start := 0
	if len(log) > maxLines {
		start = len(log) - maxLines
	}
	body := "watch\n" + strings.Join(log[start:], "\n")
	return watchBorderStyle.Render(body)
}

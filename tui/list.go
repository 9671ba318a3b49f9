package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	listBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				Padding(0, 1).
				Width(40)

	listCursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	listItemStyle   = lipgloss.NewStyle()
)

// renderList renders the scrollable tag list pane.
func renderList(tags []string, cursor int, focused bool) string {
	var b strings.Builder
	b.WriteString("tags\n")

	if len(tags) == 0 {
		b.WriteString(statusStyle.Render("(no tags)"))
	} else {
		for i, tag := range tags {
			prefix := "  "
			style := listItemStyle
			if i == cursor {
				prefix = "> "
				style = listCursorStyle
			}
			b.WriteString(style.Render(fmt.Sprintf("%s%s", prefix, tag)))
			b.WriteString("\n")
		}
	}

	box := listBorderStyle
	if focused {
		box = box.BorderForeground(lipgloss.Color("212"))
	}
	return box.Render(strings.TrimRight(b.String(), "\n"))
}

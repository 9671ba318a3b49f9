// Package tui is a bubbletea debug client for browsing, inspecting, and
// watching a running RBAE/ARBAE server interactively. Grounded on the
// teacher's tui/model.go bubbletea wiring, retargeted from a gRPC-backed
// SQL query browser to a direct rbae/arbae tag-store browser (no gRPC —
// see DESIGN.md for why the teacher's generated client was dropped).
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mickamy/tagvault/clipboard"
)

// pane identifies which half of the split view has focus.
type pane int

const (
	paneList pane = iota
	paneInspector
)

// Store is the minimal client surface the TUI needs, satisfied by both
// *rbae.Client and *arbae.Client.
type Store interface {
	GetTags() ([]string, error)
	Get(tag string) ([]byte, bool, error)
}

// Watcher is the minimal observer surface the TUI needs. Use
// NewRBAEWatcher or NewArbaeWatcher to adapt a concrete observer client.
type Watcher interface {
	Next() (cause string, tag string, err error)
}

type tagsLoadedMsg struct {
	tags []string
	err  error
}

type entryLoadedMsg struct {
	tag     string
	content []byte
	ok      bool
	err     error
}

type watchEventMsg struct {
	cause string
	tag   string
	err   error
}

// Model is the root bubbletea model for the tag-store browser.
type Model struct {
	ctx     context.Context
	store   Store
	watcher Watcher

	focus    pane
	tags     []string
	cursor   int
	selected string
	content  []byte
	loaded   bool
	status   string
	log      []string
}

// New builds a Model over store. watcher may be nil to disable the live
// watch pane.
func New(ctx context.Context, store Store, watcher Watcher) Model {
	return Model{ctx: ctx, store: store, watcher: watcher, status: "loading tags..."}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.loadTags}
	if m.watcher != nil {
		cmds = append(cmds, m.waitForEvent)
	}
	return tea.Batch(cmds...)
}

func (m Model) loadTags() tea.Msg {
	tags, err := m.store.GetTags()
	sort.Strings(tags)
	return tagsLoadedMsg{tags: tags, err: err}
}

func (m Model) loadEntry(tag string) tea.Cmd {
	return func() tea.Msg {
		content, ok, err := m.store.Get(tag)
		return entryLoadedMsg{tag: tag, content: content, ok: ok, err: err}
	}
}

func (m Model) waitForEvent() tea.Msg {
	cause, tag, err := m.watcher.Next()
	if err != nil {
		return watchEventMsg{err: err}
	}
	return watchEventMsg{cause: cause, tag: tag}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tagsLoadedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("error loading tags: %v", msg.err)
			return m, nil
		}
		m.tags = msg.tags
		m.status = fmt.Sprintf("%d tags", len(m.tags))
		return m, nil
	case entryLoadedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("error loading %q: %v", msg.tag, msg.err)
			return m, nil
		}
		m.selected = msg.tag
		m.loaded = msg.ok
		m.content = msg.content
		return m, nil
	case watchEventMsg:
		if msg.err != nil {
			m.log = append(m.log, fmt.Sprintf("watch error: %v", msg.err))
			return m, nil
		}
		line := msg.cause
		if msg.tag != "" {
			line += " " + msg.tag
		}
		m.log = appendCapped(m.log, line, 100)
		return m, m.waitForEvent
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab":
		if m.focus == paneList {
			m.focus = paneInspector
		} else {
			m.focus = paneList
		}
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.tags)-1 {
			m.cursor++
		}
		return m, nil
	case "enter":
		if m.cursor < len(m.tags) {
			tag := m.tags[m.cursor]
			return m, m.loadEntry(tag)
		}
		return m, nil
	case "r":
		return m, m.loadTags
	case "y":
		if m.loaded {
			if err := clipboard.Copy(m.ctx, string(m.content)); err != nil {
				m.status = fmt.Sprintf("copy failed: %v", err)
			} else {
				m.status = "copied to clipboard"
			}
		}
		return m, nil
	}
	return m, nil
}

func appendCapped(log []string, line string, cap int) []string {
	log = append(log, line)
	if len(log) > cap {
		log = log[len(log)-cap:]
	}
	return log
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Faint(true)
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("tagvault"))
	b.WriteString("\n\n")
	b.WriteString(renderList(m.tags, m.cursor, m.focus == paneList))
	b.WriteString("\n")
	b.WriteString(renderInspector(m.selected, m.content, m.loaded))
	if len(m.log) > 0 {
		b.WriteString("\n")
		b.WriteString(renderWatch(m.log))
	}
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.status))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render("tab: switch pane · enter: inspect · y: copy · r: refresh · q: quit"))
	return b.String()
}

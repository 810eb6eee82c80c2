package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tcon/pkg/journal"
	"tcon/pkg/protocol"
)

// tickMsg is sent by Bubble Tea on every tick interval. Used as a safety net
// when file system notifications are unavailable.
type tickMsg time.Time

// tickCmd returns a command that sends a tickMsg after 5 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// ViewType represents different views in the dashboard.
type ViewType int

const (
	// EventsView shows the journal table.
	EventsView ViewType = iota
	// DetailView shows one event in full.
	DetailView
)

// typeFilters is the cycle of event-type filters; "" shows every type.
var typeFilters = []string{ //nolint:gochecknoglobals // fixed cycle order
	"",
	protocol.EventDispatched,
	protocol.EventScheduled,
	protocol.EventDropped,
	protocol.EventSkipped,
	protocol.EventLifecycle,
}

var columns = []table.Column{ //nolint:gochecknoglobals // fixed layout
	{Title: "ID", Width: 6},
	{Title: "At", Width: 8},
	{Title: "Type", Width: 10},
	{Title: "Kind", Width: 24},
	{Title: "Sim t", Width: 9},
	{Title: "Status", Width: 24},
	{Title: "Message", Width: 40},
}

// Model is the Bubble Tea model for the tcon dashboard.
type Model struct {
	journalPath string
	limit       int

	activeView   ViewType
	failuresOnly bool
	typeFilter   int

	events      []journal.Event
	counts      map[string]int
	err         error
	lastRefresh time.Time

	table   table.Model
	watcher *journalWatcher
	theme   Theme
	styles  Styles

	width  int
	height int
}

// newModel creates a Model reading the journal at path.
func newModel(path string, limit int, watcher *journalWatcher) Model {
	theme := DefaultTheme()
	styles := NewStyles(theme)
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	t.SetStyles(styles.Table)
	return Model{
		journalPath: path,
		limit:       limit,
		table:       t,
		watcher:     watcher,
		theme:       theme,
		styles:      styles,
	}
}

// queryOpts returns the journal query for the current filters.
func (m Model) queryOpts() journal.QueryOpts {
	return journal.QueryOpts{
		Type:         typeFilters[m.typeFilter],
		FailuresOnly: m.failuresOnly,
		Limit:        m.limit,
	}
}

func (m Model) refresh() tea.Cmd { return fetchCmd(m.journalPath, m.queryOpts()) }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.watcher.next(), tickCmd())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height-6, 3))

	case snapshotMsg:
		m.lastRefresh = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.events = msg.events
			m.counts = msg.counts
			m.table.SetRows(eventRows(m.events))
		}

	case journalChangedMsg:
		return m, tea.Batch(m.refresh(), m.watcher.next())

	case tickMsg:
		return m, tea.Batch(m.refresh(), tickCmd())
	}

	return m, nil
}

// handleKeyPress processes keyboard input and returns updated model with optional command.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "q" {
		return m, tea.Quit
	}

	if m.activeView == DetailView {
		if key == "esc" || key == "backspace" || key == "enter" {
			m.activeView = EventsView
		}
		return m, nil
	}

	switch key {
	case "enter":
		if _, ok := m.selected(); ok {
			m.activeView = DetailView
		}
		return m, nil
	case "f":
		m.failuresOnly = !m.failuresOnly
		return m, m.refresh()
	case "t":
		m.typeFilter = (m.typeFilter + 1) % len(typeFilters)
		return m, m.refresh()
	case "r":
		return m, m.refresh()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// selected returns the event under the table cursor.
func (m Model) selected() (journal.Event, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.events) {
		return journal.Event{}, false
	}
	return m.events[i], true
}

// View implements tea.Model.
func (m Model) View() string {
	title := m.styles.Title.Render("tcon-dash") + "  " + m.styles.Muted.Render(m.journalPath)

	var body string
	if m.activeView == DetailView {
		ev, _ := m.selected()
		body = m.renderDetail(ev)
	} else {
		body = m.table.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, body, m.renderStatusBar())
}

// renderStatusBar renders totals, filters and key help.
func (m Model) renderStatusBar() string {
	var sb strings.Builder
	if m.err != nil {
		sb.WriteString(m.styles.Failed.Render("journal unavailable: " + m.err.Error()))
	} else {
		sb.WriteString(m.renderCounts())
	}

	filter := typeFilters[m.typeFilter]
	if filter == "" {
		filter = "all"
	}
	sb.WriteString(m.styles.Muted.Render(fmt.Sprintf("  |  type: %s", filter)))
	if m.failuresOnly {
		sb.WriteString(m.styles.Pending.Render("  failures only"))
	}
	if !m.lastRefresh.IsZero() {
		sb.WriteString(m.styles.Muted.Render("  |  updated " + m.lastRefresh.Format("15:04:05")))
	}
	sb.WriteString("\n")
	sb.WriteString(m.styles.Muted.Render("j/k move  enter detail  f failures  t type  r refresh  q quit"))
	return m.styles.StatusBar.Render(sb.String())
}

// renderCounts renders dispatched totals per status, OK first.
func (m Model) renderCounts() string {
	if len(m.counts) == 0 {
		return m.styles.Muted.Render("no commands dispatched")
	}
	statuses := make([]string, 0, len(m.counts))
	for s := range m.counts {
		statuses = append(statuses, s)
	}
	ok := protocol.StatusOK.String()
	slices.SortFunc(statuses, func(a, b string) int {
		switch {
		case a == ok:
			return -1
		case b == ok:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})

	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		part := fmt.Sprintf("%s %d", s, m.counts[s])
		if s == ok {
			parts = append(parts, m.styles.OK.Render(part))
		} else {
			parts = append(parts, m.styles.Failed.Render(part))
		}
	}
	return strings.Join(parts, "  ")
}

// renderDetail renders every field of ev.
func (m Model) renderDetail(ev journal.Event) string {
	line := func(label, value string) string {
		return m.styles.Label.Render(label) + value
	}
	lines := []string{
		line("ID", strconv.FormatInt(ev.ID, 10)),
		line("Recorded", ev.CreatedAt.Local().Format(time.RFC3339)),
		line("Type", ev.Type),
		line("Kind", orDash(ev.Kind)),
		line("Command", orDash(ev.CommandID)),
		line("Sim time", simTime(ev)),
		line("Status", orDash(ev.Status)),
	}
	if ev.Code != nil {
		lines = append(lines, line("Code", strconv.Itoa(*ev.Code)))
	}
	lines = append(lines, line("Message", ev.Message))
	return m.styles.Detail.Render(strings.Join(lines, "\n"))
}

// eventRows converts events into table rows.
func eventRows(events []journal.Event) []table.Row {
	rows := make([]table.Row, len(events))
	for i, ev := range events {
		rows[i] = table.Row{
			strconv.FormatInt(ev.ID, 10),
			ev.CreatedAt.Local().Format("15:04:05"),
			ev.Type,
			orDash(ev.Kind),
			simTime(ev),
			orDash(ev.Status),
			truncate(ev.Message, columns[6].Width),
		}
	}
	return rows
}

func simTime(ev journal.Event) string {
	if ev.SimTime == nil {
		if ev.CommandID != "" {
			return "now"
		}
		return "-"
	}
	return strconv.FormatFloat(*ev.SimTime, 'f', -1, 64)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to width runes, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}

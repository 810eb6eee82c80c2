package main

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Theme defines the visual styling for the tcon dashboard.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default theme for tcon-dash.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// Styles are the rendered styles derived from a Theme.
type Styles struct {
	Title     lipgloss.Style
	StatusBar lipgloss.Style
	Muted     lipgloss.Style
	OK        lipgloss.Style
	Failed    lipgloss.Style
	Pending   lipgloss.Style
	Label     lipgloss.Style
	Detail    lipgloss.Style
	Table     table.Styles
}

// NewStyles builds Styles from theme.
func NewStyles(theme Theme) Styles {
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.Muted).
		BorderBottom(true).
		Bold(true).
		Foreground(theme.Primary)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("0")).
		Background(theme.Secondary).
		Bold(false)

	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		StatusBar: lipgloss.NewStyle().Foreground(theme.Muted).PaddingTop(1),
		Muted:     lipgloss.NewStyle().Foreground(theme.Muted),
		OK:        lipgloss.NewStyle().Foreground(theme.Success),
		Failed:    lipgloss.NewStyle().Foreground(theme.Error).Bold(true),
		Pending:   lipgloss.NewStyle().Foreground(theme.Warning),
		Label:     lipgloss.NewStyle().Bold(true).Foreground(theme.Secondary).Width(12),
		Detail:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(theme.Muted).Padding(0, 1),
		Table:     ts,
	}
}

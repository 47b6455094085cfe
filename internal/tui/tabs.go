package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Tab index constants.
const (
	TabAgents = iota
	TabTasks
	TabEvents
)

var defaultTabs = []string{"Agents", "Tasks", "Events"}

// TabBar is a navigation component for switching between views.
type TabBar struct {
	tabs   []string
	active int

	activeStyle   lipgloss.Style
	inactiveStyle lipgloss.Style
	barStyle      lipgloss.Style
}

// NewTabBar creates a TabBar with the Agents, Tasks and Events tabs.
func NewTabBar() TabBar {
	return TabBar{
		tabs:   defaultTabs,
		active: TabAgents,

		activeStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("236")).
			Padding(0, 2),

		inactiveStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 2),

		barStyle: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")),
	}
}

// Update handles keyboard input for tab navigation.
func (t TabBar) Update(msg tea.Msg) (TabBar, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "tab":
			t.active = (t.active + 1) % len(t.tabs)
		case "shift+tab":
			t.active = (t.active - 1 + len(t.tabs)) % len(t.tabs)
		case "1":
			t.active = TabAgents
		case "2":
			t.active = TabTasks
		case "3":
			t.active = TabEvents
		}
	}
	return t, nil
}

// Active returns the selected tab index.
func (t TabBar) Active() int {
	return t.active
}

// View renders the tab bar.
func (t TabBar) View(width int) string {
	rendered := make([]string, len(t.tabs))
	for i, tab := range t.tabs {
		if i == t.active {
			rendered[i] = t.activeStyle.Render(tab)
		} else {
			rendered[i] = t.inactiveStyle.Render(tab)
		}
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
	if width > 0 {
		return t.barStyle.Width(width).Render(row)
	}
	return t.barStyle.Render(row)
}

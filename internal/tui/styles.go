package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	workingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func agentStatusStyle(s models.AgentStatus) lipgloss.Style {
	switch s {
	case models.AgentStatusWorking:
		return workingStyle
	case models.AgentStatusBlocked:
		return warnStyle
	case models.AgentStatusFailed:
		return errorStyle
	case models.AgentStatusTerminated:
		return dimStyle
	default:
		return okStyle
	}
}

func taskStatusStyle(s models.TaskStatus) lipgloss.Style {
	switch s {
	case models.TaskStatusAssigned:
		return workingStyle
	case models.TaskStatusReady:
		return warnStyle
	case models.TaskStatusCompleted:
		return okStyle
	case models.TaskStatusFailed:
		return errorStyle
	default:
		return dimStyle
	}
}

func sessionStatusStyle(s models.SessionStatus) lipgloss.Style {
	switch s {
	case models.SessionActive:
		return workingStyle
	case models.SessionPaused:
		return warnStyle
	case models.SessionCompleted:
		return okStyle
	case models.SessionFailed:
		return errorStyle
	default:
		return dimStyle
	}
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

package tui

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// renderTasks lists tasks in submission order, at most limit rows. Running
// tasks come first so the interesting rows survive truncation.
func renderTasks(tasks []*models.Task, limit int) string {
	if len(tasks) == 0 {
		return dimStyle.Render("No tasks")
	}

	ordered := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == models.TaskStatusAssigned {
			ordered = append(ordered, t)
		}
	}
	for _, t := range tasks {
		if t.Status != models.TaskStatusAssigned {
			ordered = append(ordered, t)
		}
	}

	shown := ordered
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	agentWidth := len("AGENT")
	for _, t := range shown {
		agentWidth = max(agentWidth, len(t.AssignedTo))
	}

	var b strings.Builder
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-16s %-10s %-9s %-*s %5s  %s", "TASK", "STATUS", "ROLE", agentWidth, "AGENT", "RETRY", "TITLE")))
	b.WriteString("\n")
	for _, t := range shown {
		role := string(t.Role)
		if role == "" {
			role = "any"
		}
		agent := t.AssignedTo
		if agent == "" {
			agent = "-"
		}
		title := t.Title
		if t.Status == models.TaskStatusFailed && t.Error != "" {
			title = errorStyle.Render(truncate(t.Error, 48))
		} else {
			title = truncate(title, 48)
		}
		b.WriteString(fmt.Sprintf("%-16s %s %-9s %-*s %5d  %s\n",
			truncate(t.ID, 16),
			taskStatusStyle(t.Status).Render(fmt.Sprintf("%-10s", t.Status)),
			role, agentWidth, agent, t.RetryCount, title))
	}
	if hidden := len(ordered) - len(shown); hidden > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("... %d more", hidden)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

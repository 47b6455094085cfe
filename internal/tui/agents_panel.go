package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// renderAgents lists agents grouped by role, at most limit rows.
func renderAgents(agents []models.AgentHandle, limit int) string {
	if len(agents) == 0 {
		return dimStyle.Render("No agents")
	}

	sorted := append([]models.AgentHandle(nil), agents...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Role != sorted[j].Role {
			return roleOrder(sorted[i].Role) < roleOrder(sorted[j].Role)
		}
		return sorted[i].ID < sorted[j].ID
	})

	shown := sorted
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	idWidth := len("AGENT")
	for _, h := range shown {
		idWidth = max(idWidth, len(h.ID))
	}

	var b strings.Builder
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-*s %-9s %-11s %-16s %6s %8s", idWidth, "AGENT", "ROLE", "STATUS", "TASK", "DONE", "COST")))
	b.WriteString("\n")
	for _, h := range shown {
		status := agentStatusStyle(h.Status).Render(fmt.Sprintf("%-11s", h.Status))
		task := h.TaskID
		if task == "" {
			task = "-"
		}
		b.WriteString(fmt.Sprintf("%-*s %-9s %s %-16s %6d %8s\n",
			idWidth, h.ID, h.Role, status, truncate(task, 16), h.TasksCompleted, fmt.Sprintf("$%.2f", h.Cost)))
	}
	if hidden := len(sorted) - len(shown); hidden > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("... %d more", hidden)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func roleOrder(r models.AgentRole) int {
	for i, role := range models.AllRoles() {
		if role == r {
			return i
		}
	}
	return len(models.AllRoles())
}

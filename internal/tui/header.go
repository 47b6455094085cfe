package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// settledRatio is the fraction of tasks that reached a terminal status.
func settledRatio(r *models.StatusReport) float64 {
	if r == nil || r.TasksTotal == 0 {
		return 0
	}
	return float64(r.Metrics.TasksCompleted+r.Metrics.TasksFailed) / float64(r.TasksTotal)
}

// renderHeader renders the session summary above the tabs.
func renderHeader(sessionID string, r *models.StatusReport, bar progress.Model, spin string) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Turbo Swarm"))
	b.WriteString("  ")
	b.WriteString(labelStyle.Render("session "))
	b.WriteString(valueStyle.Render(sessionID))

	if r == nil {
		b.WriteString("  ")
		b.WriteString(dimStyle.Render(spin + " waiting for status"))
		return b.String()
	}

	b.WriteString("  ")
	status := sessionStatusStyle(r.Status).Render(string(r.Status))
	if !r.Status.Terminal() {
		status = spin + " " + status
	}
	b.WriteString(status)
	if r.BudgetExhausted {
		b.WriteString("  ")
		b.WriteString(errorStyle.Render("budget exhausted"))
	}
	b.WriteString("\n")

	b.WriteString(bar.ViewAs(settledRatio(r)))
	b.WriteString(fmt.Sprintf("  %d/%d tasks", r.Metrics.TasksCompleted+r.Metrics.TasksFailed, r.TasksTotal))
	b.WriteString("\n")

	m := r.Metrics
	b.WriteString(labelStyle.Render("Tasks "))
	b.WriteString(fmt.Sprintf("%s done  %s failed  %s running  %s ready  %s pending  %s requeued",
		okStyle.Render(fmt.Sprint(m.TasksCompleted)),
		errorStyle.Render(fmt.Sprint(m.TasksFailed)),
		workingStyle.Render(fmt.Sprint(m.InProgress)),
		warnStyle.Render(fmt.Sprint(r.TasksReady)),
		dimStyle.Render(fmt.Sprint(r.TasksPending)),
		dimStyle.Render(fmt.Sprint(m.TasksRequeued)),
	))
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Agents "))
	b.WriteString(fmt.Sprintf("%s live  %s working  %s idle  %s blocked  %s failed",
		valueStyle.Render(fmt.Sprint(r.AgentCount)),
		workingStyle.Render(fmt.Sprint(r.AgentsWorking)),
		okStyle.Render(fmt.Sprint(r.AgentsIdle)),
		warnStyle.Render(fmt.Sprint(r.AgentsBlocked)),
		errorStyle.Render(fmt.Sprint(r.AgentsFailed)),
	))
	b.WriteString("   ")
	b.WriteString(labelStyle.Render("Cost "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("$%.2f", m.TotalCost)))
	b.WriteString("   ")
	b.WriteString(labelStyle.Render("Elapsed "))
	b.WriteString(valueStyle.Render((time.Duration(m.ElapsedSeconds * float64(time.Second))).Round(time.Second).String()))

	return b.String()
}

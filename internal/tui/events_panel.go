package tui

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/turboswarm/internal/orchestrator"
)

// maxEventLines bounds the events log kept in memory.
const maxEventLines = 500

// formatEvent renders one event as a log line.
func formatEvent(ev orchestrator.Event) string {
	var b strings.Builder
	b.WriteString(dimStyle.Render(ev.Timestamp.Format("15:04:05")))
	b.WriteString(" ")

	style := labelStyle
	switch ev.Type {
	case orchestrator.EventTaskCompleted:
		style = okStyle
	case orchestrator.EventTaskFailed:
		style = errorStyle
	case orchestrator.EventTaskRequeued:
		style = warnStyle
	case orchestrator.EventTaskAssigned:
		style = workingStyle
	case orchestrator.EventSessionStatus:
		style = titleStyle
	}
	b.WriteString(style.Render(fmt.Sprintf("%-15s", ev.Type)))

	if ev.TaskID != "" {
		b.WriteString(" task=" + ev.TaskID)
	}
	if ev.AgentID != "" {
		b.WriteString(" agent=" + ev.AgentID)
	}
	if ev.Key != "" {
		b.WriteString(fmt.Sprintf(" key=%s v%d", ev.Key, ev.Version))
	}
	if ev.Status != "" {
		b.WriteString(" status=" + ev.Status)
	}
	if ev.Cost > 0 {
		b.WriteString(fmt.Sprintf(" cost=$%.2f", ev.Cost))
	}
	if ev.Message != "" {
		b.WriteString(" " + ev.Message)
	}
	if ev.Error != "" {
		b.WriteString(" " + errorStyle.Render(ev.Error))
	}
	return b.String()
}

package agent

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

const plannerSystemPrompt = `You are the planning agent of a parallel work swarm.
Break the task into concrete steps other agents can execute independently.
List each step on its own line starting with "- ".
Report anything other agents must know on a line starting with "FACT: ".`

const coderSystemPrompt = `You are an implementation agent of a parallel work swarm.
Complete the assigned task exactly. Stay within its boundaries: note
unrelated discoveries as facts instead of acting on them.
Report anything other agents must know on a line starting with "FACT: ".`

const testerSystemPrompt = `You are a test agent of a parallel work swarm.
Write and evaluate tests for the work described below.
End your answer with "VERDICT: PASS" or "VERDICT: FAIL".`

const browserSystemPrompt = `You drive a browser to complete the task below.`

const verifierSystemPrompt = `You are a reviewer of a parallel work swarm.
Check the results below against the task.
End your answer with "VERDICT: PASS" or "VERDICT: FAIL".`

// Output markers.
const (
	factMarker   = "FACT:"
	verdictFail  = "VERDICT: FAIL"
	stepMarker   = "- "
	maxContextKB = 32
)

// buildPrompt renders the task together with the shared state it depends
// on: the results of its dependencies and its declared inputs.
func buildPrompt(task *models.Task, shared map[string]string) string {
	var sb strings.Builder

	sb.WriteString("## Task\n\n")
	if task.Title != "" {
		sb.WriteString(task.Title)
		sb.WriteString("\n\n")
	}
	if task.Description != "" {
		sb.WriteString(task.Description)
		sb.WriteString("\n")
	}

	if len(shared) > 0 {
		sb.WriteString("\n## Shared state\n")
		budget := maxContextKB * 1024
		for _, key := range sortedKeys(shared) {
			value := shared[key]
			if len(value) > budget {
				value = value[:budget] + "\n...(truncated)"
			}
			budget -= len(value)
			fmt.Fprintf(&sb, "\n### %s\n\n%s\n", key, value)
			if budget <= 0 {
				break
			}
		}
	}

	return sb.String()
}

// parseFacts returns the facts reported in output.
func parseFacts(output string) []string {
	var facts []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, factMarker) {
			if fact := strings.TrimSpace(strings.TrimPrefix(line, factMarker)); fact != "" {
				facts = append(facts, fact)
			}
		}
	}
	return facts
}

// parseSteps returns the plan steps in output.
func parseSteps(output string) []string {
	var steps []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, stepMarker) {
			steps = append(steps, strings.TrimSpace(strings.TrimPrefix(line, stepMarker)))
		}
	}
	return steps
}

func failedVerdict(output string) bool {
	return strings.Contains(strings.ToUpper(output), verdictFail)
}

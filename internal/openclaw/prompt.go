package openclaw

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/missionctl/mission-control/internal/task"
)

// BuildPrompt renders the natural-language instruction sent with a session.
// It is a pure function of the task's fields: identical tasks produce
// byte-identical prompts.
func BuildPrompt(t *task.Task) string {
	return promptBody(t, t.Title, t.Description)
}

// BuildHookMessage renders the hook-delivery variant of the prompt. The agent
// runs with no session this server can query, so the message carries a
// delimited completion instruction telling it to POST the outcome back to
// webhookURL under the task's synthetic session id. Title and description are
// user input and get sanitized so they cannot forge their own completion
// block.
func BuildHookMessage(t *task.Task, webhookURL string) string {
	var b strings.Builder
	b.WriteString(promptBody(t, sanitizeForPrompt(t.Title), sanitizeForPrompt(t.Description)))
	fmt.Fprintf(&b, `

---
[COMPLETION INSTRUCTION - DO NOT MODIFY]
When you have completed this task, POST the result to %s with the following JSON body:
{"session_id":"%s","status":"completed","result":"<your output>"}
---`, webhookURL, task.HookSessionID(t.ID))
	return b.String()
}

func promptBody(t *task.Task, title, description string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Mission Control Task: %s\n\n", title)

	if description != "" {
		fmt.Fprintf(&b, "Description: %s\n\n", description)
	}

	fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
	fmt.Fprintf(&b, "Task ID: %d\n\n", t.ID)

	b.WriteString("Please complete this task and provide detailed output. ")
	b.WriteString("When finished, include a summary of what was accomplished and any deliverables created.\n\n")

	if t.Priority == task.PriorityHigh {
		b.WriteString("This is a HIGH PRIORITY task. Please prioritize this work.\n\n")
	}

	b.WriteString(`Please structure your response with:
1. Understanding of the task
2. Approach and methodology
3. Execution and implementation
4. Results and deliverables
5. Summary and next steps (if any)

Begin working on this task now.`)

	return b.String()
}

var completionMarkerRe = regexp.MustCompile(`(?i)-{3,}\s*\[?COMPLETION INSTRUCTION[^\n]*`)

const sanitizedMax = 10000

// sanitizeForPrompt flattens user text onto one line, strips control
// characters, and removes anything resembling the completion-instruction
// delimiter so user content cannot redirect the webhook report.
func sanitizeForPrompt(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return -1
		}
		if r == 0x7F {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(completionMarkerRe.ReplaceAllString(s, " "))
	if len(s) > sanitizedMax {
		s = s[:sanitizedMax]
	}
	return s
}

package workflow

import (
	"fmt"
	"strings"

	"agentdesk/pkg/agent"
)

// Fixed user turns sent with each phase's system instruction.
const (
	draftUserTurn    = "Start the task."
	critiqueUserTurn = "Begin the critique."
	reviseUserTurn   = "Please revise."
	minutesUserTurn  = "Write the meeting minutes."
	reportUserTurn   = "Write the final report."
)

// Roster renders workers as "Name (Description)" joined by ", ".
func Roster(workers []agent.Agent) string {
	parts := make([]string, 0, len(workers))
	for _, w := range workers {
		parts = append(parts, fmt.Sprintf("%s (%s)", w.Name, w.Description))
	}
	return strings.Join(parts, ", ")
}

// NamedOutput is one worker's text labelled with the worker name.
type NamedOutput struct {
	Name string
	Text string
}

func joinOutputs(outputs []NamedOutput, label string) string {
	parts := make([]string, 0, len(outputs))
	for _, o := range outputs {
		parts = append(parts, fmt.Sprintf("[%s%s]: %s", o.Name, label, o.Text))
	}
	return strings.Join(parts, "\n\n")
}

// PlanPrompt is the PM's planning instruction.
func PlanPrompt(roster, goal string) string {
	var sb strings.Builder
	sb.WriteString("You are the project manager (PM). Your team members are: ")
	sb.WriteString(roster)
	sb.WriteString(".\n")
	fmt.Fprintf(&sb, "The user's goal is: \"%s\".\n", goal)
	sb.WriteString("Your responsibilities:\n")
	sb.WriteString("1. Analyse the user's request.\n")
	sb.WriteString("2. Draw up a detailed execution plan and assign the work to the right members.\n")
	sb.WriteString("3. Output your decision as JSON:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "action": "ASK" | "DELEGATE",` + "\n")
	sb.WriteString(`  "content": "for ASK, the question for the user; for DELEGATE, the task breakdown"` + "\n")
	sb.WriteString("}")
	return sb.String()
}

// DraftPrompt is a worker's first-pass instruction.
func DraftPrompt(worker agent.Agent, task, goal string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s. Responsibility: %s.\n", worker.Name, worker.Description)
	fmt.Fprintf(&sb, "PM task breakdown: \"%s\".\n", task)
	fmt.Fprintf(&sb, "User request: \"%s\".\n", goal)
	sb.WriteString("Produce your first draft from the perspective of your professional role.")
	return sb.String()
}

// CritiquePrompt asks the PM to challenge every draft.
func CritiquePrompt(goal string, drafts []NamedOutput) string {
	var sb strings.Builder
	sb.WriteString("You are the project manager. This is the round-table critique.\n")
	fmt.Fprintf(&sb, "User request: \"%s\".\n", goal)
	sb.WriteString("Team drafts:\n")
	sb.WriteString(joinOutputs(drafts, ""))
	sb.WriteString("\n\n")
	sb.WriteString("Give sharp feedback and challenge the team:\n")
	sb.WriteString("1. Point out logical gaps or weak spots in each member's draft.\n")
	sb.WriteString("2. Where members' views conflict, call it out and ask them to reconcile.\n")
	sb.WriteString("3. State concrete revision requirements.\n")
	sb.WriteString("Output your critique directly.")
	return sb.String()
}

// RevisePrompt asks a worker to defend or fix its draft.
func RevisePrompt(worker agent.Agent, critique, draft string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.\n", worker.Name)
	fmt.Fprintf(&sb, "The PM's critique: \"%s\".\n", critique)
	fmt.Fprintf(&sb, "Your draft: \"%s\".\n", draft)
	sb.WriteString("Following the PM's feedback, defend or correct your proposal and output the final, complete version.")
	return sb.String()
}

// MinutesPrompt asks the PM for process-oriented minutes of the run.
func MinutesPrompt(transcript string) string {
	var sb strings.Builder
	sb.WriteString("You are the project manager. The task is complete. Based on the process record below, write concise **meeting minutes**.\n")
	sb.WriteString("Process record:\n")
	sb.WriteString(transcript)
	sb.WriteString("\n\n")
	sb.WriteString("Requirements:\n")
	sb.WriteString("1. Summarise the key points only; do not list every exchange.\n")
	sb.WriteString("2. Cover: project background, key decisions, main conflicts and how they were resolved, follow-up action items.\n")
	sb.WriteString("3. Style: professional, concise, structured (no Markdown headings; use separators or indentation).")
	return sb.String()
}

// ReportPrompt asks the PM for a clean, result-only final report.
func ReportPrompt(goal string, finals []NamedOutput) string {
	var sb strings.Builder
	sb.WriteString("You are the project manager. Based on the team's final output, write a **clean final report**.\n")
	fmt.Fprintf(&sb, "User request: \"%s\".\n", goal)
	sb.WriteString("Team final output: ")
	sb.WriteString(joinOutputs(finals, " final output"))
	sb.WriteString("\n\n")
	sb.WriteString("Requirements:\n")
	sb.WriteString("1. Clear structure (background, in-depth analysis, detailed proposal, conclusion).\n")
	sb.WriteString("2. **Never** include process narrative such as \"the discussion\", \"review comments\" or \"we corrected...\". Show only the final result.\n")
	sb.WriteString("3. Professional tone suitable for an enterprise deliverable.\n")
	sb.WriteString("4. Use Markdown.")
	return sb.String()
}

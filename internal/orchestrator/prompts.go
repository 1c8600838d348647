package orchestrator

import (
	"fmt"
	"strings"

	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/store"
)

func taskListIntent(instructions string) string {
	var sb strings.Builder
	sb.WriteString("Produce the complete list of company tasks as ONE markdown table with exactly two columns: `| Code | Task |`.\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Group rows have an empty Code and a **bold** task name.\n")
	sb.WriteString("- Codes are one capital letter followed by digits; each extra digit is one level deeper (A1, A11, A111, A1111).\n")
	sb.WriteString("- Do not write anything outside the table.\n")
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		sb.WriteString("Additional instructions: ")
		sb.WriteString(instructions)
		sb.WriteString("\n")
	}
	return sb.String()
}

func assignmentIntent(table string, columns []matrix.Assignee, scope string) string {
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.Name)
	}
	return fmt.Sprintf(`Fill in the %s responsibility matrix below. Keep every row, the Code and Task columns and the column headers exactly as given (%s).
Put one or more of the letters Q, T, K, B, P in each cell, separated by commas, or leave the cell empty.
Every task needs exactly one Q and at least one T. Leave group rows empty. Return only the table.

%s`, scope, strings.Join(names, ", "), table)
}

func taskSuggestionIntent(department store.Department, instructions string) string {
	return fmt.Sprintf(`Suggest the recurring tasks department %q (%s) should own.
Respond with JSON: {"tasks":[{"code":"","name":"","description":"","role":"Q|T|K|B|P"}]}.
%s`, department.Name, department.Code, strings.TrimSpace(instructions))
}

func kpiSuggestionIntent(task matrix.Task, employee store.Staff, description string) string {
	return fmt.Sprintf(`Suggest measurable KPIs for this goal.
Employee: %s, %s.
Task: %s %s.
Goal: %s
Respond with JSON: {"kpis":[{"code":"","description":"","unit":"","baseline":0,"target":0}]}.`,
		employee.Name, employee.Title, task.DeepestCode(), task.Name, strings.TrimSpace(description))
}

func factorIntent(f Factor) string {
	return fmt.Sprintf(`Analyse the strategic factor %q (%s) for the company: %s
Respond with JSON: {"factor":"","summary":"","impact":"high|medium|low","opportunities":[],"threats":[],"recommendations":[]}.`,
		f.Name, f.Group, f.Description)
}

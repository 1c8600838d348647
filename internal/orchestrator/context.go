package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/store"
)

// historyWindow is how many recent chat messages go into a chat prompt.
const historyWindow = 10

// ContextBuilder renders the current working set into a plain-text block that is
// prepended to every prompt.
type ContextBuilder struct {
	Settings    repo.AppSettings
	Departments []store.Department
	Staff       []store.Staff
	Tasks       []matrix.Task
	Assignments matrix.Assignments
}

// FromVersion fills the builder from a stored working set.
func FromVersion(settings repo.AppSettings, data repo.VersionData) ContextBuilder {
	return ContextBuilder{
		Settings:    settings,
		Departments: data.Departments,
		Staff:       data.Staff,
		Tasks:       data.Tasks,
		Assignments: data.CompanyAssignments,
	}
}

func (b ContextBuilder) Render() string {
	var sb strings.Builder

	s := b.Settings
	if s.CompanyName != "" || s.Industry != "" || s.CompanyDescription != "" {
		sb.WriteString("## Company\n")
		writeField(&sb, "Name", s.CompanyName)
		writeField(&sb, "Industry", s.Industry)
		writeField(&sb, "Description", s.CompanyDescription)
		sb.WriteString("\n")
	}

	if len(b.Departments) > 0 {
		sb.WriteString("## Departments\n")
		for _, d := range sortedDepartments(b.Departments) {
			fmt.Fprintf(&sb, "- %s: %s\n", d.Code, d.Name)
		}
		sb.WriteString("\n")
	}

	if len(b.Staff) > 0 {
		sb.WriteString("## Staff\n")
		for _, p := range b.Staff {
			fmt.Fprintf(&sb, "- %s, %s (%s)\n", p.Name, p.Title, p.DepartmentCode)
		}
		sb.WriteString("\n")
	}

	if len(b.Tasks) > 0 {
		sb.WriteString("## Tasks\n")
		if len(b.Assignments) > 0 && len(b.Departments) > 0 {
			sb.WriteString(matrix.SerializeAssignmentTable(b.Tasks, b.Assignments, DepartmentAssignees(b.Departments)))
		} else {
			sb.WriteString(matrix.SerializeTasksToTable(b.Tasks))
		}
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String())
}

func writeField(sb *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(sb, "%s: %s\n", label, value)
	}
}

func sortedDepartments(departments []store.Department) []store.Department {
	out := append([]store.Department(nil), departments...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// DepartmentAssignees turns departments into matrix columns, ordered by priority.
func DepartmentAssignees(departments []store.Department) []matrix.Assignee {
	sorted := sortedDepartments(departments)
	out := make([]matrix.Assignee, 0, len(sorted))
	for _, d := range sorted {
		out = append(out, matrix.Assignee{Key: d.Code, Name: d.Name})
	}
	return out
}

// StaffAssignees turns staff into matrix columns keyed by staff id.
func StaffAssignees(staff []store.Staff) []matrix.Assignee {
	out := make([]matrix.Assignee, 0, len(staff))
	for _, p := range staff {
		out = append(out, matrix.Assignee{Key: p.ID, Name: p.Name})
	}
	return out
}

// BuildPrompt joins the context block, the recent chat history and the request.
func BuildPrompt(contextBlock, intent string, history []repo.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)
	if contextBlock != "" {
		sb.WriteString("\n\n# Context\n")
		sb.WriteString(contextBlock)
	}
	if recent := recentHistory(history); len(recent) > 0 {
		sb.WriteString("\n\n# Conversation so far\n")
		for _, m := range recent {
			speaker := "User"
			if m.Role == repo.RoleAI {
				speaker = "Assistant"
			}
			fmt.Fprintf(&sb, "%s: %s\n", speaker, m.Content)
		}
	}
	sb.WriteString("\n\n# Request\n")
	sb.WriteString(strings.TrimSpace(intent))
	return sb.String()
}

func recentHistory(history []repo.ChatMessage) []repo.ChatMessage {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}

const systemPreamble = `You are a business management consultant helping a company define its tasks, ` +
	`responsibilities and goals. Responsibility letters: Q = decides, T = executes, ` +
	`K = controls, B = is reported to, P = coordinates. Answer in the company's language.`

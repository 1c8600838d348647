package matrix

import (
	"strings"
)

// AlignMode decides how rows of an assignment table are matched to existing tasks.
type AlignMode int

const (
	// AlignByKey joins each row on its code column, then on the normalised task name.
	// Rows that match no task are reported instead of being applied elsewhere.
	AlignByKey AlignMode = iota
	// AlignByRowIndex pairs data row i with tasks[i]. If the collaborator reorders or
	// drops rows, assignments land on the wrong task.
	AlignByRowIndex
)

// AssignmentParse is the outcome of reading an N-column assignment table.
type AssignmentParse struct {
	Assignments    Assignments `json:"assignments"`
	Unmatched      []int       `json:"unmatched,omitempty"`      // 1-based data row numbers
	UnknownColumns []string    `json:"unknownColumns,omitempty"` // header names with no assignee
}

// Empty reports whether nothing was assigned, which callers treat as a parse failure.
func (p AssignmentParse) Empty() bool {
	return len(p.Assignments) == 0
}

// ParseAssignmentTable reads a table whose columns after the leading code and name
// columns are assignee display names, and returns the role cells for existing tasks.
func ParseAssignmentTable(markdown string, tasks []Task, assignees []Assignee, mode AlignMode) AssignmentParse {
	result := AssignmentParse{Assignments: Assignments{}}
	lines := tableLines(markdown)
	if len(lines) < 2 {
		return result
	}

	header := splitRow(lines[0])
	columns := make([]string, 0, len(header))
	if len(header) > leadingColumns {
		for _, name := range header[leadingColumns:] {
			key, ok := resolveAssignee(name, assignees)
			if !ok {
				result.UnknownColumns = append(result.UnknownColumns, name)
			}
			columns = append(columns, key)
		}
	}

	index := newTaskIndex(tasks)
	for i, line := range lines[1:] {
		cells := splitRow(line)
		if allEmpty(cells) {
			continue
		}
		var task *Task
		switch mode {
		case AlignByRowIndex:
			if i < len(tasks) {
				task = &tasks[i]
			}
		default:
			task = index.match(cells)
		}
		if task == nil {
			result.Unmatched = append(result.Unmatched, i+1)
			continue
		}
		if task.IsGroupHeader {
			continue
		}
		for j, key := range columns {
			if key == "" {
				continue
			}
			cellIndex := leadingColumns + j
			if cellIndex >= len(cells) {
				break
			}
			if roles := ParseRoles(cells[cellIndex]); roles != "" {
				result.Assignments.Set(task.ID, key, roles)
			}
		}
	}
	return result
}

func resolveAssignee(header string, assignees []Assignee) (string, bool) {
	want := normalizeName(unbold(header))
	if want == "" {
		return "", false
	}
	for _, a := range assignees {
		if normalizeName(a.Name) == want {
			return a.Key, true
		}
	}
	for _, a := range assignees {
		if normalizeName(a.Key) == want {
			return a.Key, true
		}
	}
	return "", false
}

func normalizeName(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

type taskIndex struct {
	tasks  []Task
	byCode map[string]int
	byName map[string]int
}

func newTaskIndex(tasks []Task) taskIndex {
	idx := taskIndex{
		tasks:  tasks,
		byCode: make(map[string]int, len(tasks)),
		byName: make(map[string]int, len(tasks)),
	}
	for i, task := range tasks {
		if code := strings.ToUpper(task.DeepestCode()); code != "" && !task.IsGroupHeader {
			if _, exists := idx.byCode[code]; !exists {
				idx.byCode[code] = i
			}
		}
		if name := normalizeName(task.Name); name != "" {
			if _, exists := idx.byName[name]; !exists {
				idx.byName[name] = i
			}
		}
	}
	return idx
}

func (idx taskIndex) match(cells []string) *Task {
	if len(cells) > 0 {
		if i, ok := idx.byCode[strings.ToUpper(strings.TrimSpace(cells[0]))]; ok {
			return &idx.tasks[i]
		}
	}
	if len(cells) > 1 {
		if i, ok := idx.byName[normalizeName(unbold(cells[1]))]; ok {
			return &idx.tasks[i]
		}
	}
	return nil
}

// SerializeAssignmentTable renders tasks with one column per assignee. The output
// parses back with ParseAssignmentTable in AlignByKey mode.
func SerializeAssignmentTable(tasks []Task, assignments Assignments, assignees []Assignee) string {
	var b strings.Builder
	b.WriteString("| Code | Task |")
	for _, a := range assignees {
		b.WriteString(" ")
		b.WriteString(escapeCell(a.Name))
		b.WriteString(" |")
	}
	b.WriteString("\n|---|---|")
	for range assignees {
		b.WriteString("---|")
	}
	b.WriteString("\n")

	for _, task := range tasks {
		b.WriteString("| ")
		b.WriteString(escapeCell(taskCode(task)))
		b.WriteString(" | ")
		b.WriteString(escapeCell(taskName(task)))
		b.WriteString(" |")
		for _, a := range assignees {
			b.WriteString(" ")
			if !task.IsGroupHeader {
				b.WriteString(string(assignments.Get(task.ID, a.Key)))
			}
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	return b.String()
}

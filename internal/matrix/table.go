package matrix

import (
	"regexp"
	"strings"

	"bizmatrix/api/internal/util"
)

const leadingColumns = 2 // code, name

var separatorCell = regexp.MustCompile(`^:?-+:?$`)

// tableLines returns the pipe-delimited lines of text with separator rows removed.
// The first returned line is the header.
func tableLines(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") {
			continue
		}
		if isSeparator(trimmed) {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// isSeparator matches rows such as |---|:---:| that contain at least one run of
// three dashes and nothing but dash cells.
func isSeparator(line string) bool {
	if !strings.Contains(line, "---") {
		return false
	}
	for _, cell := range splitRow(line) {
		if !separatorCell.MatchString(strings.ReplaceAll(cell, " ", "")) {
			return false
		}
	}
	return true
}

// splitRow splits a row on unescaped pipes, trims every cell and drops the empty cells
// produced by a leading or trailing pipe. `\|` inside a cell is a literal pipe and `\\`
// a literal backslash; any other backslash is kept as written.
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	var cells []string
	var current strings.Builder
	escaped, trailingPipe := false, false
	for _, r := range line {
		trailingPipe = false
		switch {
		case escaped:
			if r != '|' && r != '\\' {
				current.WriteRune('\\')
			}
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '|':
			cells = append(cells, current.String())
			current.Reset()
			trailingPipe = true
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	cells = append(cells, current.String())

	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	if strings.HasPrefix(line, "|") && len(cells) > 0 && cells[0] == "" {
		cells = cells[1:]
	}
	if trailingPipe && len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	return cells
}

func allEmpty(cells []string) bool {
	for _, cell := range cells {
		if cell != "" {
			return false
		}
	}
	return true
}

// isBold accepts "****" so that a group header with an empty name survives a round trip.
func isBold(text string) bool {
	return len(text) >= 4 && strings.HasPrefix(text, "**") && strings.HasSuffix(text, "**")
}

func unbold(text string) string {
	text = strings.TrimSpace(text)
	if isBold(text) {
		return strings.TrimSpace(text[2 : len(text)-2])
	}
	return text
}

// ParseTaskTable parses a code/name table using the LetterDigits strategy.
func ParseTaskTable(markdown string) []Task {
	return ParseTaskTableWith(markdown, LetterDigits)
}

// ParseTaskTableWith parses the first pipe table found in markdown. It never fails:
// text without a table, or a table with only a header, gives an empty slice, which
// callers must treat as a parse failure rather than a legitimately empty list.
func ParseTaskTableWith(markdown string, strategy CodeStrategy) []Task {
	if strategy == nil {
		strategy = LetterDigits
	}
	lines := tableLines(markdown)
	if len(lines) < 2 {
		return []Task{}
	}

	tasks := make([]Task, 0, len(lines)-1)
	for _, line := range lines[1:] {
		cells := splitRow(line)
		if allEmpty(cells) {
			continue
		}
		tasks = append(tasks, taskFromCells(cells, strategy, len(tasks)+1))
	}
	return tasks
}

func taskFromCells(cells []string, strategy CodeStrategy, rowNumber int) Task {
	var code, rawName string
	switch len(cells) {
	case 0:
	case 1:
		rawName = cells[0]
	default:
		code, rawName = cells[0], cells[1]
	}

	task := Task{
		ID:        util.NewID("task"),
		Name:      unbold(rawName),
		RowNumber: rowNumber,
	}
	if code == "" && isBold(rawName) {
		task.IsGroupHeader = true
		return task
	}
	task.Levels = strategy.Decode(code)
	return task
}

// SerializeTasksToTable renders tasks as a two-column table. Leaf rows carry their
// deepest code; group headers are written with an empty code and a bold name. The
// output parses back, with the strategy that produced the tasks, to the same levels,
// names and header flags. Blank leaves (see BlankRows) are written as empty rows,
// which the parser skips.
func SerializeTasksToTable(tasks []Task) string {
	var b strings.Builder
	b.WriteString("| Code | Task |\n")
	b.WriteString("|---|---|\n")
	for _, task := range tasks {
		b.WriteString("| ")
		b.WriteString(escapeCell(taskCode(task)))
		b.WriteString(" | ")
		b.WriteString(escapeCell(taskName(task)))
		b.WriteString(" |\n")
	}
	return b.String()
}

func taskCode(task Task) string {
	if task.IsGroupHeader {
		return ""
	}
	return task.DeepestCode()
}

func taskName(task Task) string {
	name := strings.TrimSpace(task.Name)
	if task.IsGroupHeader {
		return "**" + name + "**"
	}
	return name
}

// BlankRows returns the 1-based positions of leaf tasks with neither a code nor a
// name. Such rows cannot be told apart from padding and do not survive serialization.
func BlankRows(tasks []Task) []int {
	var rows []int
	for i, task := range tasks {
		if !task.IsGroupHeader && taskCode(task) == "" && strings.TrimSpace(task.Name) == "" {
			rows = append(rows, i+1)
		}
	}
	return rows
}

func escapeCell(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "\r\n", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "|", `\|`)
}

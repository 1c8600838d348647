package matrix

import (
	"regexp"
	"strings"
)

// CodeStrategy turns a compact task code into its four hierarchical levels.
//
// Two strategies are in use and they disagree on the same input: LetterDigits for task
// tables produced by the AI collaborator and FixedWidth for imported files. Callers pick
// one explicitly.
type CodeStrategy interface {
	Name() string
	Decode(code string) Levels
}

var (
	LetterDigits CodeStrategy = letterDigits{}
	FixedWidth   CodeStrategy = fixedWidth{}
)

// StrategyByName resolves "letter" or "fixed"; anything else yields LetterDigits.
func StrategyByName(name string) CodeStrategy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FixedWidth.Name(), "fixed-width", "import":
		return FixedWidth
	default:
		return LetterDigits
	}
}

var letterDigitsPattern = regexp.MustCompile(`^([A-Z])([0-9]+)$`)

type letterDigits struct{}

func (letterDigits) Name() string { return "letter" }

// Decode keeps the letter and grows the digit string one level at a time:
// A123 -> A1, A12, A123, "". Four or more digits put the whole code in mc4.
// Codes that do not match the pattern are kept whole in mc1.
func (letterDigits) Decode(code string) Levels {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Levels{}
	}
	match := letterDigitsPattern.FindStringSubmatch(code)
	if match == nil {
		return Levels{MC1: code}
	}
	letter, digits := match[1], match[2]
	var levels Levels
	slots := []*string{&levels.MC1, &levels.MC2, &levels.MC3}
	for i, slot := range slots {
		if len(digits) < i+1 {
			break
		}
		*slot = letter + digits[:i+1]
	}
	if len(digits) >= 4 {
		levels.MC4 = code
	}
	return levels
}

type fixedWidth struct{}

func (fixedWidth) Name() string { return "fixed" }

// Decode cuts fixed prefixes: mc1 = 2 chars, mc2 = 3, mc3 = 4, mc4 = 5. A level is only
// filled when the code is long enough; one-character codes go whole into mc1.
func (fixedWidth) Decode(code string) Levels {
	runes := []rune(strings.TrimSpace(code))
	if len(runes) == 0 {
		return Levels{}
	}
	if len(runes) < 2 {
		return Levels{MC1: string(runes)}
	}
	var levels Levels
	slots := []*string{&levels.MC1, &levels.MC2, &levels.MC3, &levels.MC4}
	for i, slot := range slots {
		width := i + 2
		if len(runes) < width {
			break
		}
		*slot = string(runes[:width])
	}
	return levels
}

// DeepestCode returns the most specific populated level, or "".
func (l Levels) DeepestCode() string {
	for _, code := range []string{l.MC4, l.MC3, l.MC2, l.MC1} {
		if code != "" {
			return code
		}
	}
	return ""
}

// Depth is the 1-based index of the deepest populated level, 0 when none is set.
func (l Levels) Depth() int {
	switch {
	case l.MC4 != "":
		return 4
	case l.MC3 != "":
		return 3
	case l.MC2 != "":
		return 2
	case l.MC1 != "":
		return 1
	default:
		return 0
	}
}

// Display is the staircase view of a task's levels: only the deepest populated level
// is kept, every other column is blank. The task itself is not modified.
func Display(task Task) Levels {
	code := task.DeepestCode()
	switch task.Depth() {
	case 4:
		return Levels{MC4: code}
	case 3:
		return Levels{MC3: code}
	case 2:
		return Levels{MC2: code}
	case 1:
		return Levels{MC1: code}
	default:
		return Levels{}
	}
}

// DisplayRow is a task as rendered in the staircase table.
type DisplayRow struct {
	Task
	Display Levels `json:"display"`
}

// DisplayRows derives the staircase rows for a task list.
func DisplayRows(tasks []Task) []DisplayRow {
	rows := make([]DisplayRow, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, DisplayRow{Task: task, Display: Display(task)})
	}
	return rows
}

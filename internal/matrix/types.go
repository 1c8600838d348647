// Package matrix holds the task/responsibility data model and the pipe-delimited
// markdown convention used to exchange it with the AI collaborator.
package matrix

import "strings"

// RoleCode is one letter of the QTKBP responsibility vocabulary.
type RoleCode string

const (
	RoleDecide     RoleCode = "Q" // Quyết định
	RoleExecute    RoleCode = "T" // Thực hiện
	RoleControl    RoleCode = "K" // Kiểm soát
	RoleReport     RoleCode = "B" // Báo cáo
	RoleCoordinate RoleCode = "P" // Phối hợp
)

// RoleCodes lists the vocabulary in display order.
var RoleCodes = []RoleCode{RoleDecide, RoleExecute, RoleControl, RoleReport, RoleCoordinate}

var roleLabels = map[RoleCode]string{
	RoleDecide:     "Decide",
	RoleExecute:    "Execute",
	RoleControl:    "Control",
	RoleReport:     "Report",
	RoleCoordinate: "Coordinate",
}

func (c RoleCode) Valid() bool {
	_, ok := roleLabels[c]
	return ok
}

func (c RoleCode) Label() string {
	return roleLabels[c]
}

// RoleSet is the stored form of one matrix cell: one or more role letters joined by
// commas, e.g. "Q" or "Q,T". Department-level cells may carry several letters.
type RoleSet string

// ParseRoles normalises a raw cell into a RoleSet. Separators may be commas, slashes,
// semicolons or spaces; a run of letters such as "QT" is split into letters. Letters
// outside the vocabulary are dropped and duplicates collapsed, first occurrence wins.
func ParseRoles(cell string) RoleSet {
	cell = strings.ToUpper(strings.TrimSpace(unbold(cell)))
	if cell == "" || cell == "-" {
		return ""
	}
	tokens := strings.FieldsFunc(cell, func(r rune) bool {
		return r == ',' || r == '/' || r == ';' || r == ' ' || r == '+'
	})
	seen := make(map[RoleCode]bool, len(tokens))
	codes := make([]string, 0, len(tokens))
	for _, token := range tokens {
		for _, r := range token {
			code := RoleCode(string(r))
			if !code.Valid() || seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, string(code))
		}
	}
	return RoleSet(strings.Join(codes, ","))
}

// Codes returns the letters in the set.
func (s RoleSet) Codes() []RoleCode {
	if s == "" {
		return nil
	}
	parts := strings.Split(string(s), ",")
	codes := make([]RoleCode, 0, len(parts))
	for _, part := range parts {
		codes = append(codes, RoleCode(strings.TrimSpace(part)))
	}
	return codes
}

func (s RoleSet) Has(code RoleCode) bool {
	for _, c := range s.Codes() {
		if c == code {
			return true
		}
	}
	return false
}

// Levels are the four hierarchical code levels of a task. Each is empty or a prefix of
// the task's full code.
type Levels struct {
	MC1 string `json:"mc1"`
	MC2 string `json:"mc2"`
	MC3 string `json:"mc3"`
	MC4 string `json:"mc4"`
}

// Task is one row of a task list or assignment matrix.
type Task struct {
	ID string `json:"id"`
	Levels
	Name          string             `json:"name"`
	IsGroupHeader bool               `json:"isGroupHeader"`
	Assignments   map[string]RoleSet `json:"assignments,omitempty"`
	RowNumber     int                `json:"rowNumber"`
}

// Assignments maps task id -> assignee key (department code or staff id) -> roles.
type Assignments map[string]map[string]RoleSet

// Set records roles for one cell, removing the cell when roles is empty.
func (a Assignments) Set(taskID, assignee string, roles RoleSet) {
	if roles == "" {
		if row, ok := a[taskID]; ok {
			delete(row, assignee)
			if len(row) == 0 {
				delete(a, taskID)
			}
		}
		return
	}
	row, ok := a[taskID]
	if !ok {
		row = make(map[string]RoleSet)
		a[taskID] = row
	}
	row[assignee] = roles
}

// Get returns the roles recorded for one cell.
func (a Assignments) Get(taskID, assignee string) RoleSet {
	return a[taskID][assignee]
}

// Clone returns a deep copy.
func (a Assignments) Clone() Assignments {
	out := make(Assignments, len(a))
	for taskID, row := range a {
		copied := make(map[string]RoleSet, len(row))
		for key, roles := range row {
			copied[key] = roles
		}
		out[taskID] = copied
	}
	return out
}

// Assignee is a matrix column: a department (Key = code) or a staff member (Key = id).
type Assignee struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudit(t *testing.T) {
	tasks := sampleTasks()
	assignments := Assignments{}
	// t1: one Q, one T -> clean
	assignments.Set("t1", "BGD", "Q")
	assignments.Set("t1", "KD", "T")
	// t2: two deciders, no executor
	assignments.Set("t2", "BGD", "Q")
	assignments.Set("t2", "KD", "Q,K")
	// t3: nothing assigned

	issues := Audit(tasks, assignments)

	byTask := map[string][]Problem{}
	for _, issue := range issues {
		byTask[issue.TaskID] = append(byTask[issue.TaskID], issue.Problem)
	}
	assert.NotContains(t, byTask, "t0")
	assert.NotContains(t, byTask, "t1")
	assert.Equal(t, []Problem{ProblemMultipleDeciders, ProblemNoExecutor}, byTask["t2"])
	assert.Equal(t, []Problem{ProblemNoDecider, ProblemNoExecutor}, byTask["t3"])
}

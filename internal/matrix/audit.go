package matrix

// Problem names a rule broken by a leaf task's assignments.
type Problem string

const (
	ProblemNoDecider        Problem = "NO_DECIDER"
	ProblemMultipleDeciders Problem = "MULTIPLE_DECIDERS"
	ProblemNoExecutor       Problem = "NO_EXECUTOR"
)

type AuditIssue struct {
	TaskID  string  `json:"taskId"`
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Problem Problem `json:"problem"`
	Count   int     `json:"count"`
}

// Audit checks that every leaf task has exactly one Q and at least one T across its
// assignees. Nothing enforces this at write time; the audit only reports.
func Audit(tasks []Task, assignments Assignments) []AuditIssue {
	issues := make([]AuditIssue, 0)
	for _, task := range tasks {
		if task.IsGroupHeader {
			continue
		}
		deciders, executors := 0, 0
		for _, roles := range assignments[task.ID] {
			for _, code := range roles.Codes() {
				switch code {
				case RoleDecide:
					deciders++
				case RoleExecute:
					executors++
				}
			}
		}
		issue := AuditIssue{TaskID: task.ID, Code: task.DeepestCode(), Name: task.Name}
		switch {
		case deciders == 0:
			issue.Problem, issue.Count = ProblemNoDecider, 0
			issues = append(issues, issue)
		case deciders > 1:
			issue.Problem, issue.Count = ProblemMultipleDeciders, deciders
			issues = append(issues, issue)
		}
		if executors == 0 {
			issue.Problem, issue.Count = ProblemNoExecutor, 0
			issues = append(issues, issue)
		}
	}
	return issues
}

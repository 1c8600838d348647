// Package orchestrator builds prompts from the working set, calls the AI collaborator
// and routes the results back into typed matrix, suggestion and chat values.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bizmatrix/api/internal/ai"
	"bizmatrix/api/internal/logger"
	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/store"
)

// ErrParse means the collaborator answered but the answer could not be used.
type ErrParse struct {
	Operation string
	Reason    string
}

func (e *ErrParse) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: could not read the AI response", e.Operation)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Reason)
}

// ErrCollaborator means the collaborator could not be reached or returned nothing.
type ErrCollaborator struct {
	Operation string
	Err       error
}

func (e *ErrCollaborator) Error() string {
	return fmt.Sprintf("%s: AI could not produce a result: %v", e.Operation, e.Err)
}

func (e *ErrCollaborator) Unwrap() error {
	return e.Err
}

const (
	OpTaskList         = "generate task list"
	OpAssignmentMatrix = "generate assignment matrix"
	OpDepartmentMatrix = "generate department matrix"
	OpSuggestTasks     = "suggest tasks"
	OpSuggestKPIs      = "suggest KPIs"
	OpChat             = "chat"
	OpAnalyzeFactor    = "analyse factor"
)

// Exchange runs one request/response round with the collaborator per call. It holds no
// state of its own; results are returned for the caller to apply.
type Exchange struct {
	collab ai.Collaborator
	log    *zap.Logger
	now    func() time.Time
}

func NewExchange(collab ai.Collaborator, log *zap.Logger) *Exchange {
	return &Exchange{collab: collab, log: logger.OrNop(log), now: time.Now}
}

func (e *Exchange) text(ctx context.Context, op, prompt string) (string, error) {
	raw, err := e.collab.GenerateText(ctx, prompt)
	if err != nil {
		e.log.Warn("collaborator failed", zap.String("op", op), zap.Error(err))
		return "", &ErrCollaborator{Operation: op, Err: err}
	}
	return raw, nil
}

// GenerateTaskList asks for a two-column task table and decodes it with the
// letter+digits code strategy.
func (e *Exchange) GenerateTaskList(ctx context.Context, cb ContextBuilder, instructions string) ([]matrix.Task, error) {
	cb.Tasks = nil
	prompt := BuildPrompt(cb.Render(), taskListIntent(instructions), nil)
	raw, err := e.text(ctx, OpTaskList, prompt)
	if err != nil {
		return nil, err
	}
	tasks := matrix.ParseTaskTableWith(raw, matrix.LetterDigits)
	if len(tasks) == 0 {
		e.log.Warn("no task table in response", zap.String("op", OpTaskList), zap.Int("chars", len(raw)))
		return nil, &ErrParse{Operation: OpTaskList, Reason: "response contains no task table"}
	}
	return tasks, nil
}

// GenerateAssignmentMatrix asks for company-level roles of each department.
func (e *Exchange) GenerateAssignmentMatrix(ctx context.Context, cb ContextBuilder, tasks []matrix.Task, departments []store.Department) (matrix.AssignmentParse, error) {
	columns := DepartmentAssignees(departments)
	return e.assign(ctx, OpAssignmentMatrix, cb, tasks, columns, "company")
}

// GenerateDepartmentMatrix asks for staff-level roles inside one department. Only
// tasks in which the department already has a role are sent.
func (e *Exchange) GenerateDepartmentMatrix(ctx context.Context, cb ContextBuilder, department store.Department, tasks []matrix.Task, company matrix.Assignments, staff []store.Staff) (matrix.AssignmentParse, error) {
	var members []store.Staff
	for _, p := range staff {
		if p.DepartmentCode == department.Code {
			members = append(members, p)
		}
	}
	if len(members) == 0 {
		return matrix.AssignmentParse{}, &ErrParse{Operation: OpDepartmentMatrix, Reason: "department has no staff"}
	}
	scoped := TasksForAssignee(tasks, company, department.Code)
	if len(scoped) == 0 {
		return matrix.AssignmentParse{}, &ErrParse{Operation: OpDepartmentMatrix, Reason: "department has no assigned tasks"}
	}
	return e.assign(ctx, OpDepartmentMatrix, cb, scoped, StaffAssignees(members), "department "+department.Name)
}

func (e *Exchange) assign(ctx context.Context, op string, cb ContextBuilder, tasks []matrix.Task, columns []matrix.Assignee, scope string) (matrix.AssignmentParse, error) {
	if len(tasks) == 0 || len(columns) == 0 {
		return matrix.AssignmentParse{}, &ErrParse{Operation: op, Reason: "nothing to assign"}
	}
	cb.Tasks = nil
	table := matrix.SerializeAssignmentTable(tasks, matrix.Assignments{}, columns)
	raw, err := e.text(ctx, op, BuildPrompt(cb.Render(), assignmentIntent(table, columns, scope), nil))
	if err != nil {
		return matrix.AssignmentParse{}, err
	}
	result := matrix.ParseAssignmentTable(raw, tasks, columns, matrix.AlignByKey)
	if result.Empty() {
		return matrix.AssignmentParse{}, &ErrParse{Operation: op, Reason: "response contains no assignment table"}
	}
	if len(result.Unmatched) > 0 || len(result.UnknownColumns) > 0 {
		e.log.Info("assignment table partially matched",
			zap.String("op", op),
			zap.Ints("unmatched_rows", result.Unmatched),
			zap.Strings("unknown_columns", result.UnknownColumns),
		)
	}
	return result, nil
}

// TasksForAssignee keeps group headers and the tasks where key holds any role. Group
// headers with no remaining tasks under them are dropped.
func TasksForAssignee(tasks []matrix.Task, assignments matrix.Assignments, key string) []matrix.Task {
	var out []matrix.Task
	var pendingHeader *matrix.Task
	for i := range tasks {
		task := tasks[i]
		if task.IsGroupHeader {
			pendingHeader = &tasks[i]
			continue
		}
		if assignments.Get(task.ID, key) == "" {
			continue
		}
		if pendingHeader != nil {
			out = append(out, *pendingHeader)
			pendingHeader = nil
		}
		out = append(out, task)
	}
	return out
}

func (e *Exchange) SuggestTasks(ctx context.Context, cb ContextBuilder, department store.Department, instructions string) ai.Outcome[ai.TaskSuggestionResult] {
	prompt := BuildPrompt(cb.Render(), taskSuggestionIntent(department, instructions), nil)
	outcome := ai.Expect[ai.TaskSuggestionResult](ctx, e.collab, OpSuggestTasks, prompt, nil)
	if outcome.Failure != nil || outcome.Err != nil {
		e.logOutcome(OpSuggestTasks, outcome.Failure, outcome.Err)
	}
	return outcome
}

func (e *Exchange) SuggestKPIs(ctx context.Context, cb ContextBuilder, task matrix.Task, employee store.Staff, description string) ai.Outcome[ai.KpiSuggestionResult] {
	cb.Tasks = nil
	prompt := BuildPrompt(cb.Render(), kpiSuggestionIntent(task, employee, description), nil)
	outcome := ai.Expect[ai.KpiSuggestionResult](ctx, e.collab, OpSuggestKPIs, prompt, nil)
	if outcome.Failure != nil || outcome.Err != nil {
		e.logOutcome(OpSuggestKPIs, outcome.Failure, outcome.Err)
	}
	return outcome
}

// AnalyzeFactor analyses one strategic factor. It is the unit of work of a Sequencer.
func (e *Exchange) AnalyzeFactor(ctx context.Context, cb ContextBuilder, factor Factor) (ai.StrategyFactorResult, error) {
	cb.Tasks = nil
	prompt := BuildPrompt(cb.Render(), factorIntent(factor), nil)
	outcome := ai.Expect[ai.StrategyFactorResult](ctx, e.collab, OpAnalyzeFactor, prompt, nil)
	if err := OutcomeError(OpAnalyzeFactor, outcome.Failure, outcome.Err); err != nil {
		return ai.StrategyFactorResult{}, err
	}
	result := *outcome.Value
	if result.Factor == "" {
		result.Factor = factor.Name
	}
	return result, nil
}

func (e *Exchange) logOutcome(op string, failure *ai.ParseFailure, err error) {
	if err != nil {
		e.log.Warn("collaborator failed", zap.String("op", op), zap.Error(err))
		return
	}
	e.log.Warn("unusable AI response", zap.String("op", op), zap.String("reason", failure.Reason))
}

// OutcomeError converts the failure side of an Outcome into ErrParse or ErrCollaborator.
func OutcomeError(op string, failure *ai.ParseFailure, err error) error {
	if err != nil {
		return &ErrCollaborator{Operation: op, Err: err}
	}
	if failure != nil {
		return &ErrParse{Operation: op, Reason: failure.Reason}
	}
	return nil
}

// Chat sends one user turn. On success the returned conversation carries the user
// message and the AI reply; on failure conv is returned unchanged.
func (e *Exchange) Chat(ctx context.Context, cb ContextBuilder, conv repo.Conversation, message string, file *ai.File, attachment *repo.Attachment) (repo.Conversation, error) {
	message = strings.TrimSpace(message)
	prompt := BuildPrompt(cb.Render(), message, conv.Messages)
	reply, err := e.collab.Chat(ctx, prompt, file)
	if err != nil {
		e.log.Warn("collaborator failed", zap.String("op", OpChat), zap.String("conversation_id", conv.ID), zap.Error(err))
		return conv, &ErrCollaborator{Operation: OpChat, Err: err}
	}

	now := e.now().UTC()
	updated := conv
	updated.Messages = append(append([]repo.ChatMessage(nil), conv.Messages...),
		repo.ChatMessage{Role: repo.RoleUser, Content: message, Attachment: attachment, CreatedAt: now},
		repo.ChatMessage{Role: repo.RoleAI, Content: reply, IsMarkdown: true, CreatedAt: now},
	)
	updated.Timestamp = now
	if updated.Title == "" {
		updated.Title = titleFrom(message)
	}
	return updated, nil
}

func titleFrom(message string) string {
	const max = 60
	runes := []rune(strings.Join(strings.Fields(message), " "))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}

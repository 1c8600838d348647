package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"bizmatrix/api/internal/ai"
	"bizmatrix/api/internal/attachments"
	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/orchestrator"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/store"
	"bizmatrix/api/internal/util"
)

// analysisConcurrency bounds RunAnalysis when the caller gives no limit.
const analysisConcurrency = 3

type GenerateTasksInput struct {
	Instructions string `json:"instructions" validate:"max=8000"`
}

type GenerateAssignmentsInput struct {
	Tasks []matrix.Task `json:"tasks" validate:"required,min=1"`
}

type GenerateDepartmentMatrixInput struct {
	DepartmentCode     string             `json:"departmentCode" validate:"required"`
	Tasks              []matrix.Task      `json:"tasks" validate:"required,min=1"`
	CompanyAssignments matrix.Assignments `json:"companyAssignments"`
}

type SuggestTasksInput struct {
	DepartmentCode string `json:"departmentCode" validate:"required"`
	Instructions   string `json:"instructions" validate:"max=4000"`
}

type SuggestKPIsInput struct {
	TaskID      string `json:"taskId" validate:"required"`
	EmployeeID  string `json:"employeeId" validate:"required"`
	Description string `json:"description" validate:"max=4000"`
}

// Upload is a file sent with a chat message.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// TaskListResult carries the parsed tasks and their canonical markdown.
type TaskListResult struct {
	Tasks    []matrix.Task `json:"tasks"`
	Markdown string        `json:"markdown"`
}

// aiContext derives the prompt context from the settings, the active matrix and the
// live organisation.
func (s *Service) aiContext(ctx context.Context) orchestrator.ContextBuilder {
	active, _ := s.repos.ActiveMatrix.Load(ctx)
	cb := orchestrator.FromVersion(s.settings(ctx), active)
	cb.Departments, cb.Staff = s.organisation(ctx)
	return cb
}

func (s *Service) withAITimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.AITimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.AITimeout)
}

func (s *Service) GenerateTasks(ctx context.Context, input GenerateTasksInput) (TaskListResult, error) {
	if err := s.check(input); err != nil {
		return TaskListResult{}, err
	}
	ctx, cancel := s.withAITimeout(ctx)
	defer cancel()

	tasks, err := s.exchange.GenerateTaskList(ctx, s.aiContext(ctx), strings.TrimSpace(input.Instructions))
	if err != nil {
		return TaskListResult{}, err
	}
	return TaskListResult{Tasks: tasks, Markdown: matrix.SerializeTasksToTable(tasks)}, nil
}

func (s *Service) GenerateAssignments(ctx context.Context, input GenerateAssignmentsInput) (matrix.AssignmentParse, error) {
	if err := s.check(input); err != nil {
		return matrix.AssignmentParse{}, err
	}
	departments, _ := s.organisation(ctx)
	if len(departments) == 0 {
		return matrix.AssignmentParse{}, validationError("create departments before generating the matrix", nil)
	}
	ctx, cancel := s.withAITimeout(ctx)
	defer cancel()

	return s.exchange.GenerateAssignmentMatrix(ctx, s.aiContext(ctx), input.Tasks, departments)
}

func (s *Service) GenerateDepartmentMatrix(ctx context.Context, input GenerateDepartmentMatrixInput) (matrix.AssignmentParse, error) {
	input.DepartmentCode = strings.ToUpper(strings.TrimSpace(input.DepartmentCode))
	if err := s.check(input); err != nil {
		return matrix.AssignmentParse{}, err
	}
	dept, err := s.department(ctx, input.DepartmentCode)
	if err != nil {
		return matrix.AssignmentParse{}, err
	}
	members, err := s.store.ListStaff(ctx, dept.Code)
	if err != nil {
		return matrix.AssignmentParse{}, err
	}
	ctx, cancel := s.withAITimeout(ctx)
	defer cancel()

	return s.exchange.GenerateDepartmentMatrix(ctx, s.aiContext(ctx), dept, input.Tasks, input.CompanyAssignments, members)
}

func (s *Service) SuggestTasks(ctx context.Context, input SuggestTasksInput) (*ai.TaskSuggestionResult, error) {
	input.DepartmentCode = strings.ToUpper(strings.TrimSpace(input.DepartmentCode))
	if err := s.check(input); err != nil {
		return nil, err
	}
	dept, err := s.department(ctx, input.DepartmentCode)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withAITimeout(ctx)
	defer cancel()

	outcome := s.exchange.SuggestTasks(ctx, s.aiContext(ctx), dept, strings.TrimSpace(input.Instructions))
	if err := orchestrator.OutcomeError(orchestrator.OpSuggestTasks, outcome.Failure, outcome.Err); err != nil {
		return nil, err
	}
	return outcome.Value, nil
}

// SuggestKPIs proposes KPIs for an employee's goal on a task of the active matrix.
func (s *Service) SuggestKPIs(ctx context.Context, input SuggestKPIsInput) (*ai.KpiSuggestionResult, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	task, err := s.activeTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	employee, err := s.employee(ctx, input.EmployeeID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withAITimeout(ctx)
	defer cancel()

	outcome := s.exchange.SuggestKPIs(ctx, s.aiContext(ctx), task, employee, strings.TrimSpace(input.Description))
	if err := orchestrator.OutcomeError(orchestrator.OpSuggestKPIs, outcome.Failure, outcome.Err); err != nil {
		return nil, err
	}
	return outcome.Value, nil
}

func (s *Service) department(ctx context.Context, code string) (store.Department, error) {
	dept, err := s.store.GetDepartment(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Department{}, notFound("Department not found")
	}
	return dept, err
}

func (s *Service) employee(ctx context.Context, id string) (store.Staff, error) {
	member, err := s.store.GetStaff(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Staff{}, notFound("Employee not found")
	}
	return member, err
}

func (s *Service) ListConversations(ctx context.Context) []repo.Conversation {
	return s.repos.Conversations.List(ctx)
}

func (s *Service) GetConversation(ctx context.Context, id string) (repo.Conversation, error) {
	conv, ok := s.repos.Conversations.Get(ctx, id)
	if !ok {
		return repo.Conversation{}, notFound("Conversation not found")
	}
	return conv, nil
}

func (s *Service) CreateConversation(ctx context.Context, title string) (repo.Conversation, error) {
	conv := repo.Conversation{
		ID:        util.NewID("conv"),
		Title:     strings.TrimSpace(title),
		Timestamp: s.now().UTC(),
		Messages:  []repo.ChatMessage{},
	}
	s.writeMu.Lock()
	err := s.repos.Conversations.Save(ctx, conv)
	s.writeMu.Unlock()
	if err != nil {
		return repo.Conversation{}, writeFailed("conversation", err)
	}
	return conv, nil
}

func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	s.writeMu.Lock()
	err := s.repos.Conversations.Delete(ctx, id)
	s.writeMu.Unlock()
	if err != nil {
		return writeFailed("conversation", err)
	}
	if s.attachments != nil {
		if err := s.attachments.RemoveConversation(ctx, id); err != nil {
			s.log.Warn("remove conversation attachments failed", zap.String("conversation_id", id), zap.Error(err))
		}
	}
	return nil
}

// SendMessage runs one chat turn. The conversation is only saved when the AI answered;
// a failed turn leaves the stored history as it was. Attachments are uploaded once the
// AI has answered and removed again when the conversation cannot be saved.
func (s *Service) SendMessage(ctx context.Context, conversationID, message string, upload *Upload) (repo.Conversation, error) {
	message = strings.TrimSpace(message)
	if message == "" && upload == nil {
		return repo.Conversation{}, validationError("message is required", nil)
	}
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return repo.Conversation{}, err
	}

	var (
		file       *ai.File
		attachment *repo.Attachment
	)
	if upload != nil {
		if err := attachments.Check(upload.Data); err != nil {
			return repo.Conversation{}, err
		}
		file = &ai.File{Name: upload.Name, MimeType: upload.MimeType, Data: upload.Data}
		attachment = &repo.Attachment{Name: upload.Name, MimeType: upload.MimeType, Size: int64(len(upload.Data))}
	}

	aiCtx, cancel := s.withAITimeout(ctx)
	defer cancel()
	updated, err := s.exchange.Chat(aiCtx, s.aiContext(aiCtx), conv, message, file, attachment)
	if err != nil {
		return conv, err
	}

	// attachment is shared with the user message in updated
	if upload != nil && s.attachments != nil {
		key, err := s.attachments.Put(ctx, conv.ID, upload.Name, upload.MimeType, upload.Data)
		if err != nil {
			s.log.Warn("store attachment failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		} else {
			attachment.ObjectKey = key
		}
	}

	s.writeMu.Lock()
	err = s.repos.Conversations.Save(ctx, updated)
	s.writeMu.Unlock()
	if err != nil {
		if attachment != nil && attachment.ObjectKey != "" {
			if rmErr := s.attachments.Remove(ctx, attachment.ObjectKey); rmErr != nil {
				s.log.Warn("remove unsaved attachment failed", zap.String("key", attachment.ObjectKey), zap.Error(rmErr))
			}
		}
		return repo.Conversation{}, writeFailed("conversation", err)
	}
	return updated, nil
}

// Attachment returns a stored chat attachment.
func (s *Service) Attachment(ctx context.Context, key string) ([]byte, string, error) {
	if s.attachments == nil {
		return nil, "", notFound("Attachment storage is not configured")
	}
	if !strings.HasPrefix(key, "conversations/") {
		return nil, "", notFound("Attachment not found")
	}
	return s.attachments.Get(ctx, key)
}

func (s *Service) Factors() ([]orchestrator.Factor, error) {
	return orchestrator.Factors()
}

// CreateAnalysis prepares an idle analysis over the selected factors. The prompt
// context is captured once so every step sees the same company picture.
func (s *Service) CreateAnalysis(ctx context.Context, factorIDs []string) (orchestrator.Snapshot, error) {
	all, err := orchestrator.Factors()
	if err != nil {
		return orchestrator.Snapshot{}, err
	}
	units, err := orchestrator.SelectFactors(all, factorIDs)
	if err != nil {
		return orchestrator.Snapshot{}, validationError(err.Error(), nil)
	}
	cb := s.aiContext(ctx)
	seq := s.analyses.Create(units, func(stepCtx context.Context, factor orchestrator.Factor) (ai.StrategyFactorResult, error) {
		stepCtx, cancel := s.withAITimeout(stepCtx)
		defer cancel()
		return s.exchange.AnalyzeFactor(stepCtx, cb, factor)
	})
	s.log.Info("analysis created", zap.String("analysis_id", seq.ID()), zap.Int("factors", len(units)))
	return seq.Snapshot(), nil
}

func (s *Service) ListAnalyses() []orchestrator.Snapshot {
	return s.analyses.List()
}

func (s *Service) sequencer(id string) (*orchestrator.Sequencer, error) {
	seq, ok := s.analyses.Get(id)
	if !ok {
		return nil, notFound("Analysis not found")
	}
	return seq, nil
}

func (s *Service) Analysis(id string) (orchestrator.Snapshot, error) {
	seq, err := s.sequencer(id)
	if err != nil {
		return orchestrator.Snapshot{}, err
	}
	return seq.Snapshot(), nil
}

// ControlAnalysis applies start, pause or resume.
func (s *Service) ControlAnalysis(id, action string) (orchestrator.Snapshot, error) {
	seq, err := s.sequencer(id)
	if err != nil {
		return orchestrator.Snapshot{}, err
	}
	switch action {
	case "start":
		err = seq.Start()
	case "pause":
		err = seq.Pause()
	case "resume":
		err = seq.Resume()
	default:
		return orchestrator.Snapshot{}, notFound("Unknown analysis action")
	}
	if err != nil {
		return orchestrator.Snapshot{}, err
	}
	return seq.Snapshot(), nil
}

// StepAnalysis processes the next factor. The request context bounds the step: a
// client that goes away abandons it without advancing.
func (s *Service) StepAnalysis(ctx context.Context, id string) (orchestrator.Item, orchestrator.Snapshot, error) {
	seq, err := s.sequencer(id)
	if err != nil {
		return orchestrator.Item{}, orchestrator.Snapshot{}, err
	}
	item, err := seq.Step(ctx)
	if err != nil {
		return orchestrator.Item{}, orchestrator.Snapshot{}, err
	}
	return item, seq.Snapshot(), nil
}

// RunAnalysis processes the remaining factors with bounded parallelism.
func (s *Service) RunAnalysis(ctx context.Context, id string, limit int) (orchestrator.Snapshot, error) {
	seq, err := s.sequencer(id)
	if err != nil {
		return orchestrator.Snapshot{}, err
	}
	if limit <= 0 {
		limit = analysisConcurrency
	}
	if err := seq.RunConcurrent(ctx, limit); err != nil {
		return orchestrator.Snapshot{}, err
	}
	return seq.Snapshot(), nil
}

func (s *Service) DeleteAnalysis(id string) error {
	if !s.analyses.Remove(id) {
		return notFound("Analysis not found")
	}
	return nil
}

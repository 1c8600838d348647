package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"bizmatrix/api/internal/kpi"
	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/search"
	"bizmatrix/api/internal/store"
	"bizmatrix/api/internal/util"
)

type KPIInput struct {
	Code        string  `json:"code" validate:"max=32"`
	Description string  `json:"description" validate:"required,max=1000"`
	Unit        string  `json:"unit" validate:"max=32"`
	Baseline    float64 `json:"baseline"`
	Target      float64 `json:"target"`
}

type GoalInput struct {
	EmployeeID  string     `json:"employeeId" validate:"required"`
	TaskID      string     `json:"taskId" validate:"required"`
	Description string     `json:"description" validate:"required,max=4000"`
	KPIs        []KPIInput `json:"kpis" validate:"dive"`
}

type KPIEntryInput struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Note  string  `json:"note" validate:"max=1000"`
}

// GoalView is a goal with its overall progress, the mean of its KPIs.
type GoalView struct {
	store.Goal
	Progress float64 `json:"progress"`
}

func goalView(goal store.Goal) GoalView {
	if goal.KPIs == nil {
		goal.KPIs = []kpi.KPI{}
	}
	view := GoalView{Goal: goal}
	if len(goal.KPIs) == 0 {
		return view
	}
	total := 0.0
	for _, k := range goal.KPIs {
		total += k.Progress
	}
	view.Progress = total / float64(len(goal.KPIs))
	return view
}

func (s *Service) ListGoals(ctx context.Context, employeeID string) ([]GoalView, error) {
	goals, err := s.store.ListGoals(ctx, strings.TrimSpace(employeeID))
	if err != nil {
		return nil, err
	}
	views := make([]GoalView, 0, len(goals))
	for _, goal := range goals {
		views = append(views, goalView(goal))
	}
	return views, nil
}

func (s *Service) GetGoal(ctx context.Context, id string) (GoalView, error) {
	goal, err := s.store.GetGoal(ctx, id)
	if err != nil {
		return GoalView{}, err
	}
	return goalView(goal), nil
}

// CreateGoal links an employee to a leaf task of the active matrix.
func (s *Service) CreateGoal(ctx context.Context, input GoalInput) (GoalView, error) {
	input.EmployeeID = strings.TrimSpace(input.EmployeeID)
	input.TaskID = strings.TrimSpace(input.TaskID)
	input.Description = strings.TrimSpace(input.Description)
	if err := s.check(input); err != nil {
		return GoalView{}, err
	}
	if _, err := s.employee(ctx, input.EmployeeID); err != nil {
		return GoalView{}, err
	}
	if _, err := s.activeTask(ctx, input.TaskID); err != nil {
		return GoalView{}, err
	}
	kpis, err := buildKPIs(input.KPIs, nil)
	if err != nil {
		return GoalView{}, err
	}

	now := s.now().UTC()
	goal := store.Goal{
		ID:          util.NewID("goal"),
		EmployeeID:  input.EmployeeID,
		TaskID:      input.TaskID,
		Description: input.Description,
		KPIs:        kpis,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertGoal(ctx, goal); err != nil {
		return GoalView{}, writeFailed("goal", err)
	}
	s.search.IndexGoal(goal)
	s.log.Info("goal created", zap.String("goal_id", goal.ID), zap.String("employee_id", goal.EmployeeID))
	return goalView(goal), nil
}

// UpdateGoal replaces the description and KPI definitions. A KPI keeping its code keeps
// its recorded history.
func (s *Service) UpdateGoal(ctx context.Context, id string, input GoalInput) (GoalView, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	goal, err := s.store.GetGoal(ctx, id)
	if err != nil {
		return GoalView{}, err
	}
	input.EmployeeID = goal.EmployeeID
	input.TaskID = goal.TaskID
	input.Description = strings.TrimSpace(input.Description)
	if err := s.check(input); err != nil {
		return GoalView{}, err
	}
	kpis, err := buildKPIs(input.KPIs, goal.KPIs)
	if err != nil {
		return GoalView{}, err
	}

	goal.Description = input.Description
	goal.KPIs = kpis
	goal.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateGoal(ctx, goal); err != nil {
		return GoalView{}, writeFailed("goal", err)
	}
	s.search.IndexGoal(goal)
	return goalView(goal), nil
}

func (s *Service) DeleteGoal(ctx context.Context, id string) error {
	if err := s.store.DeleteGoal(ctx, id); err != nil {
		return writeFailed("goal", err)
	}
	s.search.Remove(search.ResultGoal, id)
	return nil
}

// RecordKPIEntry stores a measurement for one day. An empty date means today; a second
// measurement for the same day replaces the first.
func (s *Service) RecordKPIEntry(ctx context.Context, goalID, code string, input KPIEntryInput) (GoalView, error) {
	if err := s.check(input); err != nil {
		return GoalView{}, err
	}
	at := s.now()
	if date := strings.TrimSpace(input.Date); date != "" {
		parsed, err := kpi.ParseDay(date)
		if err != nil {
			return GoalView{}, validationError("date must be YYYY-MM-DD", map[string]any{"date": date})
		}
		at = parsed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	goal, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return GoalView{}, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	found := false
	for i := range goal.KPIs {
		if goal.KPIs[i].Code == code {
			goal.KPIs[i] = kpi.Record(goal.KPIs[i], at, input.Value, strings.TrimSpace(input.Note))
			found = true
			break
		}
	}
	if !found {
		return GoalView{}, notFound("KPI not found")
	}
	goal.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateGoal(ctx, goal); err != nil {
		return GoalView{}, writeFailed("goal", err)
	}
	return goalView(goal), nil
}

// activeTask finds a leaf task in the active matrix. Goals may only reference those.
func (s *Service) activeTask(ctx context.Context, taskID string) (matrix.Task, error) {
	active, ok := s.repos.ActiveMatrix.Load(ctx)
	if !ok {
		return matrix.Task{}, domainError(http.StatusConflict, "NO_ACTIVE_MATRIX", "Activate a matrix version first", nil)
	}
	task, ok := active.FindTask(taskID)
	if !ok || task.IsGroupHeader {
		return matrix.Task{}, validationError("taskId is not a task of the active matrix", map[string]any{"taskId": taskID})
	}
	return task, nil
}

// buildKPIs turns inputs into KPIs, assigning KPI1, KPI2... to blank codes and carrying
// history over from previous KPIs with the same code.
func buildKPIs(inputs []KPIInput, previous []kpi.KPI) ([]kpi.KPI, error) {
	history := make(map[string][]kpi.Entry, len(previous))
	for _, k := range previous {
		history[k.Code] = k.History
	}

	out := make([]kpi.KPI, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for i, in := range inputs {
		code := strings.ToUpper(strings.TrimSpace(in.Code))
		if code == "" {
			code = fmt.Sprintf("KPI%d", i+1)
		}
		if seen[code] {
			return nil, validationError("duplicate KPI code", map[string]any{"code": code})
		}
		seen[code] = true

		k := kpi.KPI{
			Code:        code,
			Description: strings.TrimSpace(in.Description),
			Unit:        strings.TrimSpace(in.Unit),
			Baseline:    in.Baseline,
			Target:      in.Target,
			Actual:      in.Baseline,
			History:     append([]kpi.Entry(nil), history[code]...),
		}
		if k.History == nil {
			k.History = []kpi.Entry{}
		}
		out = append(out, kpi.Recompute(k))
	}
	return out, nil
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"bizmatrix/api/internal/search"
	"bizmatrix/api/internal/store"
	"bizmatrix/api/internal/util"
)

type DepartmentInput struct {
	Code     string `json:"code" validate:"required,max=32"`
	Name     string `json:"name" validate:"required,max=200"`
	Priority int    `json:"priority" validate:"gte=0"`
}

type StaffInput struct {
	Name           string `json:"name" validate:"required,max=200"`
	Title          string `json:"title" validate:"max=200"`
	DepartmentCode string `json:"departmentCode" validate:"required"`
	Email          string `json:"email" validate:"omitempty,email"`
	Phone          string `json:"phone" validate:"max=50"`
}

func (s *Service) ListDepartments(ctx context.Context) ([]store.Department, error) {
	return s.store.ListDepartments(ctx)
}

func (s *Service) CreateDepartment(ctx context.Context, input DepartmentInput) (store.Department, error) {
	input.Code = strings.ToUpper(strings.TrimSpace(input.Code))
	input.Name = strings.TrimSpace(input.Name)
	if err := s.check(input); err != nil {
		return store.Department{}, err
	}

	if _, err := s.store.GetDepartment(ctx, input.Code); err == nil {
		return store.Department{}, domainError(http.StatusConflict, "DEPARTMENT_EXISTS", "A department with this code already exists", map[string]any{"code": input.Code})
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Department{}, err
	}

	dept := store.Department{Code: input.Code, Name: input.Name, Priority: input.Priority}
	if err := s.store.InsertDepartment(ctx, dept); err != nil {
		return store.Department{}, writeFailed("department", err)
	}
	s.search.IndexDepartment(dept)
	s.log.Info("department created", zap.String("code", dept.Code))
	return dept, nil
}

// UpdateDepartment renames or reorders a department. The code is the key and never changes.
func (s *Service) UpdateDepartment(ctx context.Context, code string, input DepartmentInput) (store.Department, error) {
	input.Code = strings.ToUpper(strings.TrimSpace(code))
	input.Name = strings.TrimSpace(input.Name)
	if err := s.check(input); err != nil {
		return store.Department{}, err
	}
	dept := store.Department{Code: input.Code, Name: input.Name, Priority: input.Priority}
	if err := s.store.UpdateDepartment(ctx, dept); err != nil {
		return store.Department{}, writeFailed("department", err)
	}
	s.search.IndexDepartment(dept)
	return dept, nil
}

// DeleteDepartment refuses while staff belong to the department or the active matrix
// assigns it roles. Nothing is changed when refused.
func (s *Service) DeleteDepartment(ctx context.Context, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, err := s.store.GetDepartment(ctx, code); err != nil {
		return err
	}

	staffCount, err := s.store.CountStaffInDepartment(ctx, code)
	if err != nil {
		return err
	}
	assigned := 0
	if active, ok := s.repos.ActiveMatrix.Load(ctx); ok {
		for _, row := range active.CompanyAssignments {
			if row[code] != "" {
				assigned++
			}
		}
	}
	if staffCount > 0 || assigned > 0 {
		return domainError(http.StatusConflict, "DEPARTMENT_IN_USE", "Department is still referenced", map[string]any{
			"staff":         staffCount,
			"assignedTasks": assigned,
		})
	}

	if err := s.store.DeleteDepartment(ctx, code); err != nil {
		return writeFailed("department", err)
	}
	s.search.Remove(search.ResultDepartment, code)
	s.log.Info("department deleted", zap.String("code", code))
	return nil
}

func (s *Service) ListStaff(ctx context.Context, departmentCode string) ([]store.Staff, error) {
	return s.store.ListStaff(ctx, strings.ToUpper(strings.TrimSpace(departmentCode)))
}

func (s *Service) CreateStaff(ctx context.Context, input StaffInput) (store.Staff, error) {
	member, err := s.staffFromInput(ctx, util.NewID("stf"), input)
	if err != nil {
		return store.Staff{}, err
	}
	if err := s.store.InsertStaff(ctx, member); err != nil {
		return store.Staff{}, writeFailed("staff", err)
	}
	s.search.IndexStaff(member)
	return member, nil
}

func (s *Service) UpdateStaff(ctx context.Context, id string, input StaffInput) (store.Staff, error) {
	member, err := s.staffFromInput(ctx, id, input)
	if err != nil {
		return store.Staff{}, err
	}
	if err := s.store.UpdateStaff(ctx, member); err != nil {
		return store.Staff{}, writeFailed("staff", err)
	}
	s.search.IndexStaff(member)
	return member, nil
}

// DeleteStaff removes a staff member. Their goals go with them through the goals
// foreign key; only the search entries are cleaned up here.
func (s *Service) DeleteStaff(ctx context.Context, id string) error {
	goals, err := s.store.ListGoals(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteStaff(ctx, id); err != nil {
		return writeFailed("staff", err)
	}
	for _, goal := range goals {
		s.search.Remove(search.ResultGoal, goal.ID)
	}
	s.search.Remove(search.ResultStaff, id)
	s.log.Info("staff deleted", zap.String("staff_id", id), zap.Int("goals", len(goals)))
	return nil
}

func (s *Service) staffFromInput(ctx context.Context, id string, input StaffInput) (store.Staff, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Title = strings.TrimSpace(input.Title)
	input.DepartmentCode = strings.ToUpper(strings.TrimSpace(input.DepartmentCode))
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)
	if err := s.check(input); err != nil {
		return store.Staff{}, err
	}
	if _, err := s.store.GetDepartment(ctx, input.DepartmentCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Staff{}, validationError("departmentCode does not name a department", map[string]any{"departmentCode": input.DepartmentCode})
		}
		return store.Staff{}, err
	}
	return store.Staff{
		ID:             id,
		Name:           input.Name,
		Title:          input.Title,
		DepartmentCode: input.DepartmentCode,
		Email:          input.Email,
		Phone:          input.Phone,
	}, nil
}

// organisation returns the live departments and staff. Failures degrade to empty lists
// since they only feed prompts and exports.
func (s *Service) organisation(ctx context.Context) ([]store.Department, []store.Staff) {
	departments, err := s.store.ListDepartments(ctx)
	if err != nil {
		s.log.Warn("list departments failed", zap.Error(err))
		departments = []store.Department{}
	}
	staff, err := s.store.ListStaff(ctx, "")
	if err != nil {
		s.log.Warn("list staff failed", zap.Error(err))
		staff = []store.Staff{}
	}
	return departments, staff
}

// Search queries the index, or the database when the index is unavailable. It never fails.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

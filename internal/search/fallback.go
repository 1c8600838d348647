package search

import (
	"context"
	"strings"

	"bizmatrix/api/internal/store"
)

// FallbackSource is the database search used when Meilisearch is not available.
type FallbackSource interface {
	SearchFallback(ctx context.Context, query string, limit int) ([]store.SearchRow, error)
}

// RecordSource lists every searchable entity for a full reindex.
type RecordSource interface {
	ListDepartments(ctx context.Context) ([]store.Department, error)
	ListStaff(ctx context.Context, departmentCode string) ([]store.Staff, error)
	ListGoals(ctx context.Context, employeeID string) ([]store.Goal, error)
}

const fallbackRows = 100

// Fallback implements Searcher over FallbackSource.
type Fallback struct {
	source FallbackSource
}

func NewFallback(source FallbackSource) *Fallback {
	return &Fallback{source: source}
}

// Search pages the database matches locally: the fallback query has no offset of its own
// and caps at 100 rows.
func (f *Fallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := f.source.SearchFallback(ctx, q.Text, fallbackRows)
	if err != nil {
		return nil, 0, err
	}

	matched := make([]Result, 0, len(rows))
	for _, row := range rows {
		rtyp := ResultType(row.Kind)
		if q.FilterType != "" && q.FilterType != rtyp {
			continue
		}
		matched = append(matched, Result{Type: rtyp, ID: row.ID, Title: row.Title, Snippet: row.Snippet})
	}

	total := len(matched)
	if offset >= total {
		return []Result{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// LoadAllRecords reads every department, staff member and goal for reindexing.
func LoadAllRecords(ctx context.Context, source RecordSource) ([]DepartmentRecord, []StaffRecord, []GoalRecord, error) {
	departments, err := source.ListDepartments(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	staff, err := source.ListStaff(ctx, "")
	if err != nil {
		return nil, nil, nil, err
	}
	goals, err := source.ListGoals(ctx, "")
	if err != nil {
		return nil, nil, nil, err
	}

	depRecords := make([]DepartmentRecord, 0, len(departments))
	for _, d := range departments {
		depRecords = append(depRecords, DepartmentFromStore(d))
	}
	staffRecords := make([]StaffRecord, 0, len(staff))
	for _, s := range staff {
		staffRecords = append(staffRecords, StaffFromStore(s))
	}
	goalRecords := make([]GoalRecord, 0, len(goals))
	for _, g := range goals {
		goalRecords = append(goalRecords, GoalFromStore(g))
	}
	return depRecords, staffRecords, goalRecords, nil
}

func DepartmentFromStore(d store.Department) DepartmentRecord {
	return DepartmentRecord{ID: d.Code, Code: d.Code, Name: d.Name}
}

func StaffFromStore(s store.Staff) StaffRecord {
	return StaffRecord{ID: s.ID, Name: s.Name, Title: s.Title, DepartmentCode: s.DepartmentCode, Email: s.Email}
}

func GoalFromStore(g store.Goal) GoalRecord {
	names := make([]string, 0, len(g.KPIs))
	for _, k := range g.KPIs {
		names = append(names, strings.TrimSpace(k.Code+" "+k.Description))
	}
	return GoalRecord{ID: g.ID, EmployeeID: g.EmployeeID, TaskID: g.TaskID, Description: g.Description, KPIs: names}
}

// Package search indexes departments, staff and goals. Meilisearch serves queries when it
// is configured and healthy; otherwise the Postgres ILIKE fallback answers.
package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDepartment ResultType = "department"
	ResultStaff      ResultType = "staff"
	ResultGoal       ResultType = "goal"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// DepartmentRecord is the data we index for a department.
type DepartmentRecord struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// StaffRecord is the data we index for a staff member.
type StaffRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Title          string `json:"title"`
	DepartmentCode string `json:"departmentCode"`
	Email          string `json:"email"`
}

// GoalRecord is the data we index for a goal. KPIs holds "code description" per KPI.
type GoalRecord struct {
	ID          string   `json:"id"`
	EmployeeID  string   `json:"employeeId"`
	TaskID      string   `json:"taskId"`
	Description string   `json:"description"`
	KPIs        []string `json:"kpis"`
}

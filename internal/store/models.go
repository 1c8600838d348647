package store

import (
	"time"

	"bizmatrix/api/internal/kpi"
)

type User struct {
	ID          string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

// Department is an organisational unit. Code is its stable key and is referenced by
// staff and by department-level assignment columns.
type Department struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// Staff is a position holder inside a department.
type Staff struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Title          string `json:"title"`
	DepartmentCode string `json:"departmentCode"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

// Goal links an employee to a task of the active matrix and owns its KPIs.
type Goal struct {
	ID          string    `json:"id"`
	EmployeeID  string    `json:"employeeId"`
	TaskID      string    `json:"taskId"`
	Description string    `json:"description"`
	KPIs        []kpi.KPI `json:"kpis"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SearchRow is one match from the Postgres search fallback.
type SearchRow struct {
	Kind    string
	ID      string
	Title   string
	Snippet string
}

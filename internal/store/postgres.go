package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizmatrix/api/internal/kpi"
	"bizmatrix/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureUserByName returns the user with this display name, creating it on first
// login. The first user of an empty database becomes admin.
func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, role, created_at FROM users WHERE display_name = $1`, name).
		Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (id, display_name, role)
		VALUES ($1, $2, CASE WHEN EXISTS (SELECT 1 FROM users) THEN 'editor' ELSE 'admin' END)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, role, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, util.NewID("usr"), name).
		Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, role, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2 WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.role, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	if err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, priority FROM departments ORDER BY priority, code`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	items := make([]Department, 0)
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.Code, &d.Name, &d.Priority); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetDepartment(ctx context.Context, code string) (Department, error) {
	var d Department
	err := s.db.QueryRowContext(ctx, `SELECT code, name, priority FROM departments WHERE code=$1`, code).
		Scan(&d.Code, &d.Name, &d.Priority)
	if err != nil {
		return Department{}, err
	}
	return d, nil
}

func (s *PostgresStore) InsertDepartment(ctx context.Context, d Department) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO departments (code, name, priority) VALUES ($1, $2, $3)`, d.Code, d.Name, d.Priority)
	if err != nil {
		return fmt.Errorf("insert department: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDepartment(ctx context.Context, d Department) error {
	res, err := s.db.ExecContext(ctx, `UPDATE departments SET name=$2, priority=$3, updated_at=NOW() WHERE code=$1`, d.Code, d.Name, d.Priority)
	if err != nil {
		return fmt.Errorf("update department: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) DeleteDepartment(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM departments WHERE code=$1`, code)
	if err != nil {
		return fmt.Errorf("delete department: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) CountStaffInDepartment(ctx context.Context, code string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staff WHERE department_code=$1`, code).Scan(&count); err != nil {
		return 0, fmt.Errorf("count department staff: %w", err)
	}
	return count, nil
}

const staffColumns = `id, name, title, department_code, email, phone`

func scanStaff(row interface{ Scan(...any) error }) (Staff, error) {
	var p Staff
	err := row.Scan(&p.ID, &p.Name, &p.Title, &p.DepartmentCode, &p.Email, &p.Phone)
	return p, err
}

func (s *PostgresStore) ListStaff(ctx context.Context, departmentCode string) ([]Staff, error) {
	query := `SELECT ` + staffColumns + ` FROM staff`
	args := []any{}
	if departmentCode != "" {
		query += ` WHERE department_code=$1`
		args = append(args, departmentCode)
	}
	query += ` ORDER BY department_code, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	items := make([]Staff, 0)
	for rows.Next() {
		p, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetStaff(ctx context.Context, id string) (Staff, error) {
	return scanStaff(s.db.QueryRowContext(ctx, `SELECT `+staffColumns+` FROM staff WHERE id=$1`, id))
}

func (s *PostgresStore) InsertStaff(ctx context.Context, p Staff) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff (id, name, title, department_code, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Title, p.DepartmentCode, p.Email, p.Phone)
	if err != nil {
		return fmt.Errorf("insert staff: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStaff(ctx context.Context, p Staff) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE staff SET name=$2, title=$3, department_code=$4, email=$5, phone=$6, updated_at=NOW()
		WHERE id=$1
	`, p.ID, p.Name, p.Title, p.DepartmentCode, p.Email, p.Phone)
	if err != nil {
		return fmt.Errorf("update staff: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) DeleteStaff(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM staff WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete staff: %w", err)
	}
	return expectOneRow(res)
}

const goalColumns = `id, employee_id, task_id, description, kpis, created_at, updated_at`

func scanGoal(row interface{ Scan(...any) error }) (Goal, error) {
	var g Goal
	var kpis []byte
	if err := row.Scan(&g.ID, &g.EmployeeID, &g.TaskID, &g.Description, &kpis, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return Goal{}, err
	}
	g.KPIs = []kpi.KPI{}
	if len(kpis) > 0 {
		if err := json.Unmarshal(kpis, &g.KPIs); err != nil {
			return Goal{}, fmt.Errorf("decode goal kpis: %w", err)
		}
	}
	return g, nil
}

// ListGoals returns goals, optionally only those of one employee.
func (s *PostgresStore) ListGoals(ctx context.Context, employeeID string) ([]Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals`
	args := []any{}
	if employeeID != "" {
		query += ` WHERE employee_id=$1`
		args = append(args, employeeID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	items := make([]Goal, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetGoal(ctx context.Context, id string) (Goal, error) {
	return scanGoal(s.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=$1`, id))
}

func (s *PostgresStore) InsertGoal(ctx context.Context, g Goal) error {
	kpis, err := encodeKPIs(g.KPIs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO goals (id, employee_id, task_id, description, kpis, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, g.ID, g.EmployeeID, g.TaskID, g.Description, kpis, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

// UpdateGoal rewrites the description and the whole KPI list.
func (s *PostgresStore) UpdateGoal(ctx context.Context, g Goal) error {
	kpis, err := encodeKPIs(g.KPIs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET description=$2, kpis=$3, updated_at=$4 WHERE id=$1
	`, g.ID, g.Description, kpis, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) DeleteGoal(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	return expectOneRow(res)
}

func encodeKPIs(kpis []kpi.KPI) ([]byte, error) {
	if kpis == nil {
		kpis = []kpi.KPI{}
	}
	raw, err := json.Marshal(kpis)
	if err != nil {
		return nil, fmt.Errorf("encode goal kpis: %w", err)
	}
	return raw, nil
}

// SearchFallback matches staff, departments and goals with ILIKE. It backs search
// when no external index is configured.
func (s *PostgresStore) SearchFallback(ctx context.Context, query string, limit int) ([]SearchRow, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchRow{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, id, title, snippet FROM (
			SELECT 'department' AS kind, code AS id, name AS title, code AS snippet
			FROM departments WHERE name ILIKE $1 OR code ILIKE $1
			UNION ALL
			SELECT 'staff', id, name, title || ' (' || department_code || ')'
			FROM staff WHERE name ILIKE $1 OR title ILIKE $1 OR email ILIKE $1
			UNION ALL
			SELECT 'goal', id, description, task_id
			FROM goals WHERE description ILIKE $1 OR kpis::text ILIKE $1
		) matches
		ORDER BY kind, title
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search fallback: %w", err)
	}
	defer rows.Close()

	items := make([]SearchRow, 0)
	for rows.Next() {
		var row SearchRow
		if err := rows.Scan(&row.Kind, &row.ID, &row.Title, &row.Snippet); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

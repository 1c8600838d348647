package app

import (
	"net/http"
	"strconv"

	"bizmatrix/api/internal/rbac"
	"bizmatrix/api/internal/search"
)

func (s *HTTPServer) routeOrganisation(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 2 {
		return false
	}

	switch parts[1] {
	case "departments":
		if len(parts) == 2 && r.Method == http.MethodGet {
			items, err := s.service.ListDepartments(r.Context())
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"departments": items})
			return true
		}
		if len(parts) == 2 && r.Method == http.MethodPost {
			if !s.allow(w, r, session, rbac.ActionWrite) {
				return true
			}
			var body DepartmentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			dept, err := s.service.CreateDepartment(r.Context(), body)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusCreated, dept)
			return true
		}
		if len(parts) == 3 && r.Method == http.MethodPut {
			if !s.allow(w, r, session, rbac.ActionWrite) {
				return true
			}
			var body DepartmentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			dept, err := s.service.UpdateDepartment(r.Context(), parts[2], body)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, dept)
			return true
		}
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if !s.allow(w, r, session, rbac.ActionWrite) {
				return true
			}
			if err := s.service.DeleteDepartment(r.Context(), parts[2]); err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return true
		}

	case "staff":
		if len(parts) == 2 && r.Method == http.MethodGet {
			items, err := s.service.ListStaff(r.Context(), r.URL.Query().Get("department"))
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"staff": items})
			return true
		}
		if len(parts) == 2 && r.Method == http.MethodPost {
			if !s.allow(w, r, session, rbac.ActionWrite) {
				return true
			}
			var body StaffInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			member, err := s.service.CreateStaff(r.Context(), body)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusCreated, member)
			return true
		}
		if len(parts) == 3 && r.Method == http.MethodPut {
			if !s.allow(w, r, session, rbac.ActionWrite) {
				return true
			}
			var body StaffInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			member, err := s.service.UpdateStaff(r.Context(), parts[2], body)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, member)
			return true
		}
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if !s.allow(w, r, session, rbac.ActionWrite) {
				return true
			}
			if err := s.service.DeleteStaff(r.Context(), parts[2]); err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return true
		}

	case "users":
		if len(parts) == 4 && parts[3] == "role" && r.Method == http.MethodPut {
			if !s.allow(w, r, session, rbac.ActionAdmin) {
				return true
			}
			var body struct {
				Role string `json:"role"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			user, err := s.service.SetUserRole(r.Context(), session, parts[2], body.Role)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"userId": user.ID, "userName": user.DisplayName, "role": user.Role})
			return true
		}
	}
	return false
}

func (s *HTTPServer) routeGoals(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 2 || parts[1] != "goals" {
		return false
	}

	if len(parts) == 2 && r.Method == http.MethodGet {
		items, err := s.service.ListGoals(r.Context(), r.URL.Query().Get("employee"))
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"goals": items})
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodGet {
		goal, err := s.service.GetGoal(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, goal)
		return true
	}

	if !s.allow(w, r, session, rbac.ActionWrite) {
		return true
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		var body GoalInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		goal, err := s.service.CreateGoal(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusCreated, goal)
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodPut {
		var body GoalInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		goal, err := s.service.UpdateGoal(r.Context(), parts[2], body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, goal)
		return true
	}
	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteGoal(r.Context(), parts[2]); err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return true
	}
	if len(parts) == 6 && parts[3] == "kpis" && parts[5] == "entries" && r.Method == http.MethodPost {
		var body KPIEntryInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		goal, err := s.service.RecordKPIEntry(r.Context(), parts[2], parts[4], body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, goal)
		return true
	}
	return false
}

func (s *HTTPServer) routeSearch(w http.ResponseWriter, r *http.Request, _ Session, parts []string) bool {
	if len(parts) != 2 || parts[1] != "search" || r.Method != http.MethodGet {
		return false
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
		Text:       query.Get("q"),
		FilterType: search.ResultType(query.Get("type")),
		Limit:      limit,
		Offset:     offset,
	}))
	return true
}
